package publish

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// Ledger is the append-only publish history.
type Ledger interface {
	Append(ctx context.Context, r Record) (Record, error)
	Records(ctx context.Context) ([]Record, error)
}

// ChainLedger is an in-memory hash-chained ledger: each record's
// content hash covers its predecessor's, so tampering anywhere breaks
// the chain. Hashing goes through JCS canonicalization so the hash is
// stable across field ordering.
type ChainLedger struct {
	mu       sync.Mutex
	entries  []Record
	headHash string
	clock    func() time.Time
}

// NewChainLedger creates an empty ledger.
func NewChainLedger() *ChainLedger {
	return &ChainLedger{headHash: "genesis", clock: time.Now}
}

// WithClock overrides the clock for testing.
func (l *ChainLedger) WithClock(clock func() time.Time) *ChainLedger {
	l.clock = clock
	return l
}

func recordHash(r Record) (string, error) {
	hashInput := struct {
		ID       string            `json:"id"`
		Name     string            `json:"name"`
		Version  string            `json:"version"`
		Platform string            `json:"platform"`
		Status   string            `json:"status"`
		Sums     map[string]string `json:"sums,omitempty"`
		Prev     string            `json:"prev"`
	}{r.ID, r.PackageName, r.Version, r.Platform, string(r.Status), r.Checksums, r.PrevHash}

	raw, err := json.Marshal(hashInput)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize record: %w", err)
	}
	h := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}

// Append adds a record to the chain, filling in ID, timestamp, prev
// hash and content hash.
func (l *ChainLedger) Append(ctx context.Context, r Record) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.PublishedAt.IsZero() {
		r.PublishedAt = l.clock()
	}
	r.PrevHash = l.headHash

	hash, err := recordHash(r)
	if err != nil {
		return Record{}, err
	}
	r.ContentHash = hash

	l.entries = append(l.entries, r)
	l.headHash = r.ContentHash
	return r, nil
}

// Records returns a copy of the full history in append order.
func (l *ChainLedger) Records(ctx context.Context) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.entries))
	copy(out, l.entries)
	return out, nil
}

// Verify checks the integrity of the chain.
func (l *ChainLedger) Verify() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prevHash := "genesis"
	for i, entry := range l.entries {
		if entry.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at record %d", i)
		}
		computed, err := recordHash(entry)
		if err != nil {
			return false, fmt.Sprintf("failed to hash record %d", i)
		}
		if computed != entry.ContentHash {
			return false, fmt.Sprintf("hash mismatch at record %d", i)
		}
		prevHash = entry.ContentHash
	}
	return true, "publish chain verified"
}
