// Package release supervises one release run end to end: expand the
// matrix, build all platforms, assemble and validate packages, publish
// the batch. Per-platform failures are isolated through the build and
// packaging phases; publishing is all-or-nothing.
package release

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PlatformState is the flat per-platform audit record persisted after
// each phase, enough to resume or audit a run.
type PlatformState struct {
	BuildStatus       string            `yaml:"build_status"`
	ArtifactChecksums map[string]string `yaml:"artifact_checksums,omitempty"`
	PackageStatus     string            `yaml:"package_status"`
	PublishRecordID   string            `yaml:"publish_record_id,omitempty"`
	FailedPhase       string            `yaml:"failed_phase,omitempty"`
	Error             string            `yaml:"error,omitempty"`
}

// RunState is the persisted manifest of one release run.
type RunState struct {
	RunID     string                    `yaml:"run_id"`
	StartedAt time.Time                 `yaml:"started_at"`
	Platforms map[string]*PlatformState `yaml:"platforms"`
}

// Save writes the state atomically next to its final path.
func (s *RunState) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}
	tmpPath := path + ".tmp"
	//nolint:gosec // G306: 0644 is intentional for the auditable state file
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write run state: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("commit run state: %w", err)
	}
	return nil
}

// LoadState reads a previously persisted run state.
func LoadState(path string) (*RunState, error) {
	data, err := os.ReadFile(path) //nolint:gosec // state path from the release config
	if err != nil {
		return nil, fmt.Errorf("load run state %q: %w", path, err)
	}
	var s RunState
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse run state %q: %w", path, err)
	}
	return &s, nil
}
