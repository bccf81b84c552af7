package publish

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Masterminds/semver/v3"

	"github.com/omer-dayan/runai-model-streamer/pkg/assemble"
	"github.com/omer-dayan/runai-model-streamer/pkg/platform"
)

// Manager publishes validated package batches and yanks defective
// releases.
type Manager struct {
	ledger Ledger
	index  Index
	logger *slog.Logger
}

// NewManager creates a publish manager.
func NewManager(ledger Ledger, index Index) *Manager {
	return &Manager{
		ledger: ledger,
		index:  index,
		logger: slog.Default().With("component", "publish"),
	}
}

// Publish pushes the batch to the distribution index and appends one
// live record per package. The batch is atomic: if any package is not
// validated, nothing is uploaded and nothing is recorded; if an upload
// or a ledger append fails midway, every uploaded package is yanked
// and every already-appended live record is retracted before the
// error is returned, so no partial batch is ever observable.
func (m *Manager) Publish(ctx context.Context, pkgs []*assemble.Package) ([]Record, error) {
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("publish batch is empty")
	}

	var unvalidated []platform.Tag
	for _, pkg := range pkgs {
		if !pkg.Validated {
			unvalidated = append(unvalidated, pkg.Platform)
		}
	}
	if len(unvalidated) > 0 {
		return nil, &PartialValidationError{Unvalidated: unvalidated}
	}

	// Upload everything before recording anything.
	indexIDs := make([]string, len(pkgs))
	for i, pkg := range pkgs {
		id, err := m.index.Upload(ctx, pkg)
		if err != nil {
			m.compensate(ctx, indexIDs[:i])
			return nil, fmt.Errorf("publish aborted at %s: %w", pkg.Platform, err)
		}
		indexIDs[i] = id
	}

	records := make([]Record, 0, len(pkgs))
	for i, pkg := range pkgs {
		r, err := m.ledger.Append(ctx, Record{
			PackageName:   pkg.Name,
			Version:       pkg.Version,
			Platform:      pkg.Platform.String(),
			IndexRecordID: indexIDs[i],
			Checksums:     pkg.Checksums,
			Status:        StatusLive,
		})
		if err != nil {
			m.compensate(ctx, indexIDs)
			m.retract(ctx, records)
			return nil, fmt.Errorf("publish aborted at %s: ledger append failed: %w", pkg.Platform, err)
		}
		m.logger.InfoContext(ctx, "package published",
			"platform", r.Platform, "version", r.Version, "record_id", r.ID)
		records = append(records, r)
	}
	return records, nil
}

// compensate yanks packages uploaded before a mid-batch failure.
func (m *Manager) compensate(ctx context.Context, uploaded []string) {
	for _, id := range uploaded {
		if id == "" {
			continue
		}
		if err := m.index.Yank(ctx, id); err != nil {
			m.logger.ErrorContext(ctx, "failed to yank after aborted publish", "record_id", id, "error", err)
		}
	}
}

// retract appends yanked records for live records written before a
// mid-batch ledger failure. The ledger is append-only, so retraction
// is itself an append; a record whose retraction also fails is logged
// and surfaced by ledger verification.
func (m *Manager) retract(ctx context.Context, appended []Record) {
	for _, r := range appended {
		if _, err := m.ledger.Append(ctx, Record{
			PackageName:   r.PackageName,
			Version:       r.Version,
			Platform:      r.Platform,
			IndexRecordID: r.IndexRecordID,
			Checksums:     r.Checksums,
			Status:        StatusYanked,
		}); err != nil {
			m.logger.ErrorContext(ctx, "failed to retract record after aborted publish", "record_id", r.ID, "error", err)
		}
	}
}

// Rollback yanks one platform's package of the given version. It
// appends a yanked record and signals the index; it does not touch
// installations already downloaded by end users.
func (m *Manager) Rollback(ctx context.Context, tag platform.Tag, version string) (Record, error) {
	if _, err := semver.NewVersion(version); err != nil {
		return Record{}, fmt.Errorf("rollback version %q is not valid semver: %w", version, err)
	}

	records, err := m.ledger.Records(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("read publish ledger: %w", err)
	}

	// Walk backwards: the latest record for this platform+version
	// decides whether there is anything live to yank.
	var live *Record
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if r.Platform != tag.String() || r.Version != version {
			continue
		}
		if r.Status == StatusYanked {
			return Record{}, fmt.Errorf("%s %s is already yanked", tag, version)
		}
		live = &r
		break
	}
	if live == nil {
		return Record{}, fmt.Errorf("no live publish record for %s %s", tag, version)
	}

	if err := m.index.Yank(ctx, live.IndexRecordID); err != nil {
		return Record{}, fmt.Errorf("index yank failed for %s %s: %w", tag, version, err)
	}

	yanked, err := m.ledger.Append(ctx, Record{
		PackageName:   live.PackageName,
		Version:       live.Version,
		Platform:      live.Platform,
		IndexRecordID: live.IndexRecordID,
		Checksums:     live.Checksums,
		Status:        StatusYanked,
	})
	if err != nil {
		return Record{}, fmt.Errorf("ledger append failed for yank of %s %s: %w", tag, version, err)
	}
	m.logger.InfoContext(ctx, "package yanked", "platform", yanked.Platform, "version", yanked.Version)
	return yanked, nil
}
