package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/omer-dayan/runai-model-streamer/pkg/artifacts"
	"github.com/omer-dayan/runai-model-streamer/pkg/platform"
)

// DefaultTimeout bounds one toolchain invocation when the caller does
// not configure one.
const DefaultTimeout = 30 * time.Minute

// Coordinator drives the toolchain across the platform matrix and
// stages the outputs. Builds for independent platforms run
// concurrently; builds for the same platform are serialized, the
// toolchain does not tolerate two instances sharing state.
type Coordinator struct {
	compiler Compiler
	store    artifacts.Store
	timeout  time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[platform.Tag]*sync.Mutex
}

// NewCoordinator creates a build coordinator. A zero timeout falls
// back to DefaultTimeout.
func NewCoordinator(compiler Compiler, store artifacts.Store, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{
		compiler: compiler,
		store:    store,
		timeout:  timeout,
		logger:   slog.Default().With("component", "build"),
		locks:    make(map[platform.Tag]*sync.Mutex),
	}
}

func (c *Coordinator) lockFor(tag platform.Tag) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[tag]
	if !ok {
		l = &sync.Mutex{}
		c.locks[tag] = l
	}
	return l
}

// Build runs one toolchain invocation covering every target for the
// platform. On success every declared target must have yielded an
// artifact; a toolchain that reports success without producing all
// outputs fails the job. Timeouts fail the job and are not retried,
// native compilation is not idempotent across partial failures.
func (c *Coordinator) Build(ctx context.Context, tag platform.Tag, targets []string) (*Job, error) {
	l := c.lockFor(tag)
	l.Lock()
	defer l.Unlock()

	job := NewJob(tag, targets)

	if err := ctx.Err(); err != nil {
		// Run cancelled before this platform started; leave pending.
		job.Err = fmt.Errorf("cancelled before build started: %w", err)
		job.AppendLog("cancelled before build started: %v", err)
		return job, job.Err
	}

	job.Status = StatusRunning
	job.AppendLog("building %d targets for %s", len(targets), tag)
	c.logger.InfoContext(ctx, "build started", "job_id", job.ID, "platform", tag.String(), "targets", targets)

	buildCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	result, err := c.compiler.Compile(buildCtx, tag, targets)
	if result.Log != "" {
		job.AppendLog("%s", result.Log)
	}
	if err != nil {
		if errors.Is(buildCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("toolchain timed out after %s for %s: %w", c.timeout, tag, err)
		}
		return c.fail(ctx, job, err)
	}

	var missing []string
	for _, target := range targets {
		blob, ok := result.Artifacts[target]
		if !ok {
			missing = append(missing, target)
			continue
		}
		if err := c.store.Put(ctx, artifacts.New(tag, target, blob)); err != nil {
			return c.fail(ctx, job, fmt.Errorf("failed to stage %s for %s: %w", target, tag, err))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return c.fail(ctx, job, &IncompleteArtifactError{Platform: tag, Missing: missing})
	}

	job.Status = StatusSucceeded
	job.AppendLog("build succeeded in %s", time.Since(started).Round(time.Millisecond))
	c.logger.InfoContext(ctx, "build succeeded", "job_id", job.ID, "platform", tag.String(), "duration", time.Since(started))
	return job, nil
}

func (c *Coordinator) fail(ctx context.Context, job *Job, err error) (*Job, error) {
	job.Status = StatusFailed
	job.Err = err
	job.AppendLog("build failed: %v", err)
	c.logger.ErrorContext(ctx, "build failed",
		"job_id", job.ID,
		"platform", job.Platform.String(),
		"error", err,
		"log_tail", job.LogTail(),
	)
	return job, err
}

// BuildAll fans one worker out per platform and join-waits on all of
// them. A platform's failure never blocks its siblings. The returned
// jobs are ordered like tags; callers inspect each job's Status and
// Err for per-platform outcomes.
func (c *Coordinator) BuildAll(ctx context.Context, tags []platform.Tag, targets []string) []*Job {
	jobs := make([]*Job, len(tags))
	var wg sync.WaitGroup
	for i, tag := range tags {
		wg.Add(1)
		go func(i int, tag platform.Tag) {
			defer wg.Done()
			job, _ := c.Build(ctx, tag, targets)
			jobs[i] = job
		}(i, tag)
	}
	wg.Wait()
	return jobs
}
