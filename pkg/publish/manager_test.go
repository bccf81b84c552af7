package publish_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omer-dayan/runai-model-streamer/pkg/assemble"
	"github.com/omer-dayan/runai-model-streamer/pkg/platform"
	"github.com/omer-dayan/runai-model-streamer/pkg/publish"
)

var (
	linuxAMD64 = platform.Tag{OS: platform.OSLinux, Arch: platform.ArchX8664}
	macosARM64 = platform.Tag{OS: platform.OSMacOS, Arch: platform.ArchARM64}
)

type fakeIndex struct {
	uploads []string
	yanked  []string
	failAt  int // 1-based upload call that fails; 0 means never
	calls   int
}

func (f *fakeIndex) Upload(ctx context.Context, pkg *assemble.Package) (string, error) {
	f.calls++
	if f.failAt > 0 && f.calls == f.failAt {
		return "", errors.New("index unavailable")
	}
	id := fmt.Sprintf("idx/%s-%s", pkg.Name, pkg.Platform)
	f.uploads = append(f.uploads, id)
	return id, nil
}

func (f *fakeIndex) Yank(ctx context.Context, recordID string) error {
	f.yanked = append(f.yanked, recordID)
	return nil
}

func validatedPkg(tag platform.Tag) *assemble.Package {
	return &assemble.Package{
		Name:         "runai-model-streamer",
		Version:      "0.14.0",
		Platform:     tag,
		PythonABITag: "cp38-abi3",
		Libraries:    []string{"streamer"},
		Checksums:    map[string]string{"streamer": "sha256:aa"},
		Repaired:     true,
		Validated:    true,
	}
}

func TestPublish_AllValidated(t *testing.T) {
	ledger := publish.NewChainLedger()
	index := &fakeIndex{}
	mgr := publish.NewManager(ledger, index)

	records, err := mgr.Publish(context.Background(), []*assemble.Package{
		validatedPkg(linuxAMD64),
		validatedPkg(macosARM64),
	})
	require.NoError(t, err)
	require.Len(t, records, 2)

	for _, r := range records {
		assert.Equal(t, publish.StatusLive, r.Status)
		assert.NotEmpty(t, r.IndexRecordID)
	}
	assert.Len(t, index.uploads, 2)

	ok, msg := ledger.Verify()
	assert.True(t, ok, msg)
}

func TestPublish_RejectsUnvalidatedBatch(t *testing.T) {
	ledger := publish.NewChainLedger()
	index := &fakeIndex{}
	mgr := publish.NewManager(ledger, index)

	bad := validatedPkg(macosARM64)
	bad.Validated = false

	_, err := mgr.Publish(context.Background(), []*assemble.Package{validatedPkg(linuxAMD64), bad})
	require.Error(t, err)

	var partial *publish.PartialValidationError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []platform.Tag{macosARM64}, partial.Unvalidated)

	// Atomicity: nothing uploaded, nothing recorded.
	assert.Empty(t, index.uploads)
	records, err := ledger.Records(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestPublish_EmptyBatch(t *testing.T) {
	mgr := publish.NewManager(publish.NewChainLedger(), &fakeIndex{})
	_, err := mgr.Publish(context.Background(), nil)
	assert.Error(t, err)
}

func TestPublish_MidBatchUploadFailureIsCompensated(t *testing.T) {
	ledger := publish.NewChainLedger()
	index := &fakeIndex{failAt: 2}
	mgr := publish.NewManager(ledger, index)

	_, err := mgr.Publish(context.Background(), []*assemble.Package{
		validatedPkg(linuxAMD64),
		validatedPkg(macosARM64),
	})
	require.Error(t, err)

	// The first upload went through and must have been yanked back.
	require.Len(t, index.uploads, 1)
	assert.Equal(t, index.uploads, index.yanked)

	records, err := ledger.Records(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records, "no records for an aborted batch")
}

// flakyLedger fails exactly one Append call, the way a dropped SQL
// connection would, and behaves normally otherwise.
type flakyLedger struct {
	inner  publish.Ledger
	failAt int // 1-based Append call that fails
	calls  int
}

func (f *flakyLedger) Append(ctx context.Context, r publish.Record) (publish.Record, error) {
	f.calls++
	if f.calls == f.failAt {
		return publish.Record{}, errors.New("connection reset by peer")
	}
	return f.inner.Append(ctx, r)
}

func (f *flakyLedger) Records(ctx context.Context) ([]publish.Record, error) {
	return f.inner.Records(ctx)
}

func TestPublish_MidBatchLedgerFailureIsCompensated(t *testing.T) {
	ledger := &flakyLedger{inner: publish.NewChainLedger(), failAt: 2}
	index := &fakeIndex{}
	mgr := publish.NewManager(ledger, index)

	_, err := mgr.Publish(context.Background(), []*assemble.Package{
		validatedPkg(linuxAMD64),
		validatedPkg(macosARM64),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger append failed")

	// Every uploaded package must have been yanked from the index.
	require.Len(t, index.uploads, 2)
	assert.ElementsMatch(t, index.uploads, index.yanked)

	// The record appended before the failure must have been retracted:
	// no platform may end the aborted batch with a live latest record.
	records, rerr := ledger.Records(context.Background())
	require.NoError(t, rerr)
	latest := make(map[string]publish.RecordStatus)
	for _, r := range records {
		latest[r.Platform+"@"+r.Version] = r.Status
	}
	for key, status := range latest {
		assert.Equal(t, publish.StatusYanked, status, key)
	}
}

func TestRollback_YanksLiveRecord(t *testing.T) {
	ledger := publish.NewChainLedger()
	index := &fakeIndex{}
	mgr := publish.NewManager(ledger, index)

	_, err := mgr.Publish(context.Background(), []*assemble.Package{validatedPkg(linuxAMD64)})
	require.NoError(t, err)

	yanked, err := mgr.Rollback(context.Background(), linuxAMD64, "0.14.0")
	require.NoError(t, err)
	assert.Equal(t, publish.StatusYanked, yanked.Status)
	assert.Len(t, index.yanked, 1)

	// History preserved: live record still present, yank appended.
	records, err := ledger.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, publish.StatusLive, records[0].Status)
	assert.Equal(t, publish.StatusYanked, records[1].Status)
}

func TestRollback_NoLiveRecord(t *testing.T) {
	mgr := publish.NewManager(publish.NewChainLedger(), &fakeIndex{})
	_, err := mgr.Rollback(context.Background(), linuxAMD64, "0.14.0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no live publish record")
}

func TestRollback_AlreadyYanked(t *testing.T) {
	ledger := publish.NewChainLedger()
	index := &fakeIndex{}
	mgr := publish.NewManager(ledger, index)

	_, err := mgr.Publish(context.Background(), []*assemble.Package{validatedPkg(linuxAMD64)})
	require.NoError(t, err)
	_, err = mgr.Rollback(context.Background(), linuxAMD64, "0.14.0")
	require.NoError(t, err)

	_, err = mgr.Rollback(context.Background(), linuxAMD64, "0.14.0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already yanked")
}

func TestRollback_InvalidVersion(t *testing.T) {
	mgr := publish.NewManager(publish.NewChainLedger(), &fakeIndex{})
	_, err := mgr.Rollback(context.Background(), linuxAMD64, "not-semver")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid semver")
}
