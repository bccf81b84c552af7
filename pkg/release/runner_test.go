package release_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omer-dayan/runai-model-streamer/pkg/artifacts"
	"github.com/omer-dayan/runai-model-streamer/pkg/assemble"
	"github.com/omer-dayan/runai-model-streamer/pkg/build"
	"github.com/omer-dayan/runai-model-streamer/pkg/platform"
	"github.com/omer-dayan/runai-model-streamer/pkg/publish"
	"github.com/omer-dayan/runai-model-streamer/pkg/release"
)

type fakeCompiler struct {
	failFor map[platform.Tag]bool
}

func (c *fakeCompiler) Compile(ctx context.Context, tag platform.Tag, targets []string) (build.CompileResult, error) {
	if c.failFor[tag] {
		return build.CompileResult{Log: "cc: internal error"}, fmt.Errorf("toolchain exited 1 for %s", tag)
	}
	result := build.CompileResult{Artifacts: make(map[string][]byte, len(targets))}
	for _, target := range targets {
		result.Artifacts[target] = []byte("ELF " + target + " " + tag.String())
	}
	return result, nil
}

type fakeRepairer struct {
	failFor map[platform.Tag]bool
}

func (r *fakeRepairer) Repair(ctx context.Context, pkgDir string, tag platform.Tag) error {
	if r.failFor[tag] {
		return errors.New("repair tool rejected the layout")
	}
	return nil
}

type fakeIndex struct {
	mu      sync.Mutex
	uploads []string
	yanked  []string
}

func (f *fakeIndex) Upload(ctx context.Context, pkg *assemble.Package) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "idx-" + pkg.Platform.String()
	f.uploads = append(f.uploads, id)
	return id, nil
}

func (f *fakeIndex) Yank(ctx context.Context, indexRecordID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.yanked = append(f.yanked, indexRecordID)
	return nil
}

type harness struct {
	runner    *release.Runner
	ledger    *publish.ChainLedger
	index     *fakeIndex
	statePath string
}

func newHarness(t *testing.T, compiler build.Compiler, repairer assemble.Repairer) *harness {
	t.Helper()
	store := artifacts.NewMemoryStore()
	ledger := publish.NewChainLedger()
	index := &fakeIndex{}
	statePath := filepath.Join(t.TempDir(), "run-state.yaml")

	runner := release.NewRunner(
		build.NewCoordinator(compiler, store, 0),
		assemble.NewAssembler(repairer, nil, t.TempDir()),
		publish.NewManager(ledger, index),
		store,
		nil,
		statePath,
	)
	return &harness{runner: runner, ledger: ledger, index: index, statePath: statePath}
}

func testManifest() *assemble.Manifest {
	return &assemble.Manifest{
		Name:         "runai-model-streamer",
		Version:      "1.2.3",
		Libraries:    []string{"streamer", "streamers3"},
		PythonABITag: "cp38",
	}
}

func matrix(t *testing.T) []platform.Tag {
	t.Helper()
	linux, err := platform.ParseTag("linux/x86_64")
	require.NoError(t, err)
	macos, err := platform.ParseTag("macos/arm64")
	require.NoError(t, err)
	return []platform.Tag{linux, macos}
}

func TestRun_AllPlatformsPublished(t *testing.T) {
	h := newHarness(t, &fakeCompiler{}, &fakeRepairer{})

	report, err := h.runner.Run(context.Background(), matrix(t), testManifest())
	require.NoError(t, err)

	assert.Empty(t, report.FailedPlatforms())
	require.Len(t, report.Records, 2)
	for _, r := range report.Records {
		assert.Equal(t, publish.StatusLive, r.Status)
		assert.Equal(t, "1.2.3", r.Version)
		assert.Len(t, r.Checksums, 2)
	}

	records, err := h.ledger.Records(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2)
	ok, _ := h.ledger.Verify()
	assert.True(t, ok)

	state, err := release.LoadState(h.statePath)
	require.NoError(t, err)
	assert.Equal(t, report.RunID, state.RunID)
	for _, tag := range []string{"linux/x86_64", "macos/arm64"} {
		ps, ok := state.Platforms[tag]
		require.True(t, ok, tag)
		assert.Equal(t, "succeeded", ps.BuildStatus)
		assert.Equal(t, "validated", ps.PackageStatus)
		assert.NotEmpty(t, ps.PublishRecordID)
		assert.Len(t, ps.ArtifactChecksums, 2)
	}
}

func TestRun_PackageFailureAbortsPublish(t *testing.T) {
	macos, err := platform.ParseTag("macos/arm64")
	require.NoError(t, err)
	h := newHarness(t, &fakeCompiler{}, &fakeRepairer{failFor: map[platform.Tag]bool{macos: true}})

	report, err := h.runner.Run(context.Background(), matrix(t), testManifest())

	var partial *publish.PartialValidationError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []platform.Tag{macos}, partial.Unvalidated)

	// Nothing reached the index or the ledger.
	assert.Empty(t, h.index.uploads)
	records, lerr := h.ledger.Records(context.Background())
	require.NoError(t, lerr)
	assert.Empty(t, records)

	failed := report.FailedPlatforms()
	require.Len(t, failed, 1)
	assert.Equal(t, macos, failed[0].Platform)
	assert.Equal(t, release.PhasePackage, failed[0].Phase)

	// The healthy sibling still built and packaged.
	state, serr := release.LoadState(h.statePath)
	require.NoError(t, serr)
	assert.Equal(t, "validated", state.Platforms["linux/x86_64"].PackageStatus)
	assert.Equal(t, "failed", state.Platforms["macos/arm64"].PackageStatus)
}

func TestRun_BuildFailureAbortsPublish(t *testing.T) {
	linux, err := platform.ParseTag("linux/x86_64")
	require.NoError(t, err)
	h := newHarness(t, &fakeCompiler{failFor: map[platform.Tag]bool{linux: true}}, &fakeRepairer{})

	report, err := h.runner.Run(context.Background(), matrix(t), testManifest())

	var partial *publish.PartialValidationError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []platform.Tag{linux}, partial.Unvalidated)
	assert.Empty(t, h.index.uploads)

	failed := report.FailedPlatforms()
	require.Len(t, failed, 1)
	assert.Equal(t, release.PhaseBuild, failed[0].Phase)

	state, serr := release.LoadState(h.statePath)
	require.NoError(t, serr)
	assert.Equal(t, "failed", state.Platforms["linux/x86_64"].BuildStatus)
	assert.Equal(t, "build", state.Platforms["linux/x86_64"].FailedPhase)
	assert.Equal(t, "succeeded", state.Platforms["macos/arm64"].BuildStatus)
}

func TestRun_RejectsUnsupportedPlatform(t *testing.T) {
	h := newHarness(t, &fakeCompiler{}, &fakeRepairer{})

	tags := []platform.Tag{{OS: platform.OSWindows, Arch: platform.ArchX8664}}
	report, err := h.runner.Run(context.Background(), tags, testManifest())
	assert.Nil(t, report)

	var cfgErr *platform.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestRun_CancelledBeforePublish(t *testing.T) {
	h := newHarness(t, &fakeCompiler{}, &fakeRepairer{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.runner.Run(ctx, matrix(t), testManifest())
	require.Error(t, err)

	// A cancelled run publishes nothing.
	assert.Empty(t, h.index.uploads)
	records, lerr := h.ledger.Records(context.Background())
	require.NoError(t, lerr)
	assert.Empty(t, records)
}
