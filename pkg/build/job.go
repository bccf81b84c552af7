// Package build coordinates the native toolchain: one compile
// invocation per platform covering all targets, concurrent across
// platforms, serialized within one.
package build

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/omer-dayan/runai-model-streamer/pkg/platform"
)

// Status is a build job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// logTailLimit bounds how much toolchain output a failed job keeps.
const logTailLimit = 16 * 1024

// Job tracks one toolchain invocation for one platform. It is created
// when the matrix is expanded and mutated only by the Coordinator;
// succeeded and failed are terminal.
type Job struct {
	ID       string
	Platform platform.Tag
	Targets  []string
	Status   Status
	Err      error

	log strings.Builder
}

// NewJob creates a pending job for the given platform and targets.
func NewJob(tag platform.Tag, targets []string) *Job {
	return &Job{
		ID:       uuid.NewString(),
		Platform: tag,
		Targets:  append([]string(nil), targets...),
		Status:   StatusPending,
	}
}

// AppendLog adds a line to the job's append-only log.
func (j *Job) AppendLog(format string, args ...any) {
	fmt.Fprintf(&j.log, format+"\n", args...)
}

// Log returns the accumulated log text.
func (j *Job) Log() string {
	return j.log.String()
}

// LogTail returns the last logTailLimit bytes of the log, the part
// surfaced on failure.
func (j *Job) LogTail() string {
	s := j.log.String()
	if len(s) <= logTailLimit {
		return s
	}
	return s[len(s)-logTailLimit:]
}

// IncompleteArtifactError reports a toolchain run that claimed success
// but did not produce every declared target. It is treated as a
// failure, never a partial success.
type IncompleteArtifactError struct {
	Platform platform.Tag
	Missing  []string
}

func (e *IncompleteArtifactError) Error() string {
	return fmt.Sprintf("build for %s succeeded but is missing artifacts: %s",
		e.Platform, strings.Join(e.Missing, ", "))
}
