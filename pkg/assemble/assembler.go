package assemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/omer-dayan/runai-model-streamer/pkg/artifacts"
	"github.com/omer-dayan/runai-model-streamer/pkg/platform"
)

// Assembler builds one package per platform from staged artifacts.
// Packages for different platforms have no cross-dependency and may
// be assembled concurrently.
type Assembler struct {
	repairer  Repairer
	validator Validator
	workDir   string
	logger    *slog.Logger
}

// NewAssembler creates an assembler writing package layouts under
// workDir. A nil validator falls back to LayoutValidator.
func NewAssembler(repairer Repairer, validator Validator, workDir string) *Assembler {
	if validator == nil {
		validator = LayoutValidator{}
	}
	return &Assembler{
		repairer:  repairer,
		validator: validator,
		workDir:   workDir,
		logger:    slog.Default().With("component", "assemble"),
	}
}

// Assemble produces a validated package for one platform. Every
// manifest library is fetched from the store and copied into the
// package layout under its platform file name, then the repair step
// runs, then validation. Any failure discards the package directory;
// nothing partially repaired survives.
func (a *Assembler) Assemble(ctx context.Context, tag platform.Tag, manifest *Manifest, store artifacts.Store) (*Package, error) {
	pkg := &Package{
		Name:         manifest.Name,
		Version:      manifest.Version,
		Platform:     tag,
		PythonABITag: manifest.PythonABITag,
		Libraries:    append([]string(nil), manifest.Libraries...),
		Dir:          filepath.Join(a.workDir, fmt.Sprintf("%s-%s-%s", manifest.Name, manifest.Version, sanitize(tag))),
		Checksums:    make(map[string]string, len(manifest.Libraries)),
	}

	libDir := filepath.Join(pkg.Dir, "lib")
	//nolint:gosec // G301: 0755 is intentional for the package layout
	if err := os.MkdirAll(libDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create package layout: %w", err)
	}

	discard := func(err error) (*Package, error) {
		_ = os.RemoveAll(pkg.Dir)
		a.logger.ErrorContext(ctx, "package discarded", "platform", tag.String(), "error", err)
		return nil, err
	}

	for _, library := range manifest.Libraries {
		artifact, err := store.Get(ctx, tag, library)
		if err != nil {
			var nf *artifacts.NotFoundError
			if errors.As(err, &nf) {
				return discard(&MissingArtifactError{Platform: tag, LibraryName: library})
			}
			return discard(fmt.Errorf("artifact store failure for %s/%s: %w", tag, library, err))
		}

		fileName, err := platform.LibraryFileName(library, tag.OS)
		if err != nil {
			return discard(err)
		}
		//nolint:gosec // G306: 0644 is intentional for packaged libraries
		if err := os.WriteFile(pkg.LibraryPath(fileName), artifact.Blob, 0644); err != nil {
			return discard(fmt.Errorf("failed to place %s: %w", fileName, err))
		}
		pkg.Checksums[library] = artifact.Checksum
	}
	a.logger.InfoContext(ctx, "package assembled", "platform", tag.String(), "libraries", len(manifest.Libraries))

	if err := a.repairer.Repair(ctx, pkg.Dir, tag); err != nil {
		return discard(&RepairError{Platform: tag, Err: err})
	}
	pkg.Repaired = true

	if err := a.validator.Validate(ctx, pkg); err != nil {
		return discard(&ValidationError{Platform: tag, Err: err})
	}
	pkg.Validated = true

	a.logger.InfoContext(ctx, "package validated", "platform", tag.String(), "name", pkg.Name, "version", pkg.Version)
	return pkg, nil
}

// Result pairs a platform with its assembly outcome.
type Result struct {
	Platform platform.Tag
	Package  *Package
	Err      error
}

// AssembleAll runs one worker per platform and join-waits on all of
// them; one platform's failure never blocks the others.
func (a *Assembler) AssembleAll(ctx context.Context, tags []platform.Tag, manifest *Manifest, store artifacts.Store) []Result {
	results := make([]Result, len(tags))
	var wg sync.WaitGroup
	for i, tag := range tags {
		wg.Add(1)
		go func(i int, tag platform.Tag) {
			defer wg.Done()
			pkg, err := a.Assemble(ctx, tag, manifest, store)
			results[i] = Result{Platform: tag, Package: pkg, Err: err}
		}(i, tag)
	}
	wg.Wait()
	return results
}

func sanitize(tag platform.Tag) string {
	s := string(tag.OS) + "-" + string(tag.Arch)
	if tag.ABI != "" {
		s += "-" + tag.ABI
	}
	return s
}
