package assemble

import (
	"fmt"
	"path/filepath"

	"github.com/omer-dayan/runai-model-streamer/pkg/platform"
)

// Package is an installable distribution unit for one platform. It
// moves through assembled -> repaired -> validated and is discarded
// on any failure; a partially repaired package is never published.
type Package struct {
	Name         string
	Version      string
	Platform     platform.Tag
	PythonABITag string
	Libraries    []string
	Dir          string
	Checksums    map[string]string // library name -> artifact checksum
	Repaired     bool
	Validated    bool
}

// FileName returns the wheel-style distribution file name.
func (p *Package) FileName() (string, error) {
	wheelTag, err := platform.WheelPlatformTag(p.Platform)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s-%s.whl", p.Name, p.Version, p.PythonABITag, wheelTag), nil
}

// LibraryPath returns the location of a library file inside the
// package's runtime-library directory.
func (p *Package) LibraryPath(fileName string) string {
	return filepath.Join(p.Dir, "lib", fileName)
}

// MissingArtifactError reports a manifest-required library absent
// from the artifact store for the package's platform.
type MissingArtifactError struct {
	Platform    platform.Tag
	LibraryName string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("missing artifact %q for %s", e.LibraryName, e.Platform)
}

// RepairError reports a failed repair/bundling step.
type RepairError struct {
	Platform platform.Tag
	Err      error
}

func (e *RepairError) Error() string {
	return fmt.Sprintf("repair failed for %s: %v", e.Platform, e.Err)
}

func (e *RepairError) Unwrap() error { return e.Err }

// ValidationError reports a package that failed post-repair
// validation.
type ValidationError struct {
	Platform platform.Tag
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %v", e.Platform, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
