package release

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/omer-dayan/runai-model-streamer/pkg/artifacts"
	"github.com/omer-dayan/runai-model-streamer/pkg/assemble"
	"github.com/omer-dayan/runai-model-streamer/pkg/build"
	"github.com/omer-dayan/runai-model-streamer/pkg/observe"
	"github.com/omer-dayan/runai-model-streamer/pkg/platform"
	"github.com/omer-dayan/runai-model-streamer/pkg/publish"
)

// Phase names used in reports and state files.
const (
	PhaseBuild   = "build"
	PhasePackage = "package"
	PhasePublish = "publish"
)

// PlatformReport is the user-visible outcome for one platform: which
// phase it reached and how it ended.
type PlatformReport struct {
	Platform platform.Tag
	Phase    string
	Err      error
}

// Failed reports whether the platform ended in failure.
func (r PlatformReport) Failed() bool { return r.Err != nil }

// Report aggregates one run.
type Report struct {
	RunID     string
	Platforms []PlatformReport
	Records   []publish.Record
}

// FailedPlatforms lists the platforms that did not make it to publish.
func (r *Report) FailedPlatforms() []PlatformReport {
	var failed []PlatformReport
	for _, p := range r.Platforms {
		if p.Failed() {
			failed = append(failed, p)
		}
	}
	return failed
}

// Runner wires the pipeline together.
type Runner struct {
	coordinator *build.Coordinator
	assembler   *assemble.Assembler
	manager     *publish.Manager
	store       artifacts.Store
	obs         *observe.Provider
	statePath   string
	logger      *slog.Logger
}

// NewRunner creates a release runner. obs may be nil; statePath may be
// empty to skip state persistence.
func NewRunner(coordinator *build.Coordinator, assembler *assemble.Assembler, manager *publish.Manager, store artifacts.Store, obs *observe.Provider, statePath string) *Runner {
	return &Runner{
		coordinator: coordinator,
		assembler:   assembler,
		manager:     manager,
		store:       store,
		obs:         obs,
		statePath:   statePath,
		logger:      slog.Default().With("component", "release"),
	}
}

// Run executes the full pipeline for the expanded matrix. The build
// and packaging phases isolate per-platform failures; publish is
// atomic over the whole matrix, so any earlier failure aborts it with
// a PartialValidationError and zero records. Cancelling ctx stops
// platforms that have not started and lets running jobs finish or hit
// their timeout; nothing from a cancelled run is published.
func (r *Runner) Run(ctx context.Context, tags []platform.Tag, manifest *assemble.Manifest) (*Report, error) {
	expanded, err := platform.ExpandMatrix(tags)
	if err != nil {
		return nil, err
	}

	report := &Report{RunID: uuid.NewString()}
	state := &RunState{
		RunID:     report.RunID,
		StartedAt: time.Now().UTC(),
		Platforms: make(map[string]*PlatformState, len(expanded)),
	}
	for _, tag := range expanded {
		state.Platforms[tag.String()] = &PlatformState{
			BuildStatus:   string(build.StatusPending),
			PackageStatus: "pending",
		}
	}

	r.logger.InfoContext(ctx, "release run started", "run_id", report.RunID, "platforms", len(expanded))

	// Build phase: one worker per platform.
	buildCtx, buildSpan := r.startPhase(ctx, PhaseBuild)
	jobs := r.coordinator.BuildAll(buildCtx, expanded, manifest.Libraries)
	buildSpan.End()

	buildable := make([]platform.Tag, 0, len(expanded))
	for i, job := range jobs {
		tag := expanded[i]
		ps := state.Platforms[tag.String()]
		ps.BuildStatus = string(job.Status)
		if job.Status != build.StatusSucceeded {
			ps.FailedPhase = PhaseBuild
			if job.Err != nil {
				ps.Error = job.Err.Error()
			}
			report.Platforms = append(report.Platforms, PlatformReport{Platform: tag, Phase: PhaseBuild, Err: job.Err})
			r.countFailure(ctx, tag, PhaseBuild)
			continue
		}
		ps.ArtifactChecksums = r.checksums(ctx, tag, manifest.Libraries)
		buildable = append(buildable, tag)
		r.countBuild(ctx, tag, true)
	}
	r.saveState(ctx, state)

	// Packaging phase: only platforms with a complete artifact set.
	pkgCtx, pkgSpan := r.startPhase(ctx, PhasePackage)
	results := r.assembler.AssembleAll(pkgCtx, buildable, manifest, r.store)
	pkgSpan.End()

	packages := make([]*assemble.Package, 0, len(results))
	for _, result := range results {
		ps := state.Platforms[result.Platform.String()]
		if result.Err != nil {
			ps.PackageStatus = "failed"
			ps.FailedPhase = PhasePackage
			ps.Error = result.Err.Error()
			report.Platforms = append(report.Platforms, PlatformReport{Platform: result.Platform, Phase: PhasePackage, Err: result.Err})
			r.countFailure(ctx, result.Platform, PhasePackage)
			continue
		}
		ps.PackageStatus = "validated"
		packages = append(packages, result.Package)
		r.countPackage(ctx, result.Platform, true)
	}
	r.saveState(ctx, state)

	// Publish phase: all-or-nothing over the full matrix. A cancelled
	// run never reaches here with a publishable batch.
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("release run cancelled before publish: %w", err)
	}
	if len(packages) < len(expanded) {
		var unvalidated []platform.Tag
		for _, tag := range expanded {
			if !containsPackage(packages, tag) {
				unvalidated = append(unvalidated, tag)
			}
		}
		return report, &publish.PartialValidationError{Unvalidated: unvalidated}
	}

	pubCtx, pubSpan := r.startPhase(ctx, PhasePublish)
	records, err := r.manager.Publish(pubCtx, packages)
	pubSpan.End()
	if err != nil {
		return report, err
	}

	for _, record := range records {
		if ps, ok := state.Platforms[record.Platform]; ok {
			ps.PublishRecordID = record.ID
		}
		report.Platforms = append(report.Platforms, PlatformReport{
			Platform: mustParseTag(record.Platform),
			Phase:    PhasePublish,
		})
	}
	report.Records = records
	r.countPublish(ctx, len(records))
	r.saveState(ctx, state)

	r.logger.InfoContext(ctx, "release run completed", "run_id", report.RunID, "published", len(records))
	return report, nil
}

func (r *Runner) checksums(ctx context.Context, tag platform.Tag, libraries []string) map[string]string {
	sums := make(map[string]string, len(libraries))
	for _, library := range libraries {
		a, err := r.store.Get(ctx, tag, library)
		if err != nil {
			continue
		}
		sums[library] = a.Checksum
	}
	return sums
}

func (r *Runner) saveState(ctx context.Context, state *RunState) {
	if r.statePath == "" {
		return
	}
	if err := state.Save(r.statePath); err != nil {
		r.logger.ErrorContext(ctx, "failed to persist run state", "error", err)
	}
}

func (r *Runner) startPhase(ctx context.Context, phase string) (context.Context, trace.Span) {
	if r.obs == nil {
		return nooptrace.NewTracerProvider().Tracer("streamer-release").Start(ctx, "release."+phase)
	}
	return r.obs.StartPhase(ctx, phase)
}

func (r *Runner) countBuild(ctx context.Context, tag platform.Tag, succeeded bool) {
	if r.obs != nil {
		r.obs.CountBuild(ctx, tag.String(), succeeded)
	}
}

func (r *Runner) countPackage(ctx context.Context, tag platform.Tag, validated bool) {
	if r.obs != nil {
		r.obs.CountPackage(ctx, tag.String(), validated)
	}
}

func (r *Runner) countPublish(ctx context.Context, n int) {
	if r.obs != nil {
		r.obs.CountPublish(ctx, n)
	}
}

func (r *Runner) countFailure(ctx context.Context, tag platform.Tag, phase string) {
	if r.obs != nil {
		r.obs.CountFailure(ctx, tag.String(), phase)
	}
}

func containsPackage(packages []*assemble.Package, tag platform.Tag) bool {
	for _, pkg := range packages {
		if pkg.Platform == tag {
			return true
		}
	}
	return false
}

func mustParseTag(s string) platform.Tag {
	tag, err := platform.ParseTag(s)
	if err != nil {
		return platform.Tag{}
	}
	return tag
}
