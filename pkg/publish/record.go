// Package publish pushes validated packages to the distribution index
// and keeps the append-only publish ledger. Publishing is a single
// atomic batch; rollback is forward-only signaling, a yank appends a
// record and never deletes history.
package publish

import (
	"fmt"
	"strings"
	"time"

	"github.com/omer-dayan/runai-model-streamer/pkg/platform"
)

// RecordStatus is the lifecycle state of a published package.
type RecordStatus string

const (
	StatusLive   RecordStatus = "live"
	StatusYanked RecordStatus = "yanked"
)

// Record is one ledger entry. Entries are append-only; yanking a
// package appends a yanked record rather than rewriting the live one.
type Record struct {
	ID            string            `json:"id"`
	PackageName   string            `json:"package_name"`
	Version       string            `json:"version"`
	Platform      string            `json:"platform"` // canonical os/arch form
	IndexRecordID string            `json:"index_record_id,omitempty"`
	Checksums     map[string]string `json:"checksums,omitempty"`
	PublishedAt   time.Time         `json:"published_at"`
	Status        RecordStatus      `json:"status"`
	ContentHash   string            `json:"content_hash,omitempty"`
	PrevHash      string            `json:"prev_hash,omitempty"`
}

// PartialValidationError aborts a publish batch containing packages
// that never reached the validated state. Partial platform coverage is
// worse than none, so the whole batch fails.
type PartialValidationError struct {
	Unvalidated []platform.Tag
}

func (e *PartialValidationError) Error() string {
	names := make([]string, len(e.Unvalidated))
	for i, tag := range e.Unvalidated {
		names[i] = tag.String()
	}
	return fmt.Sprintf("publish batch rejected: packages not validated for %s", strings.Join(names, ", "))
}
