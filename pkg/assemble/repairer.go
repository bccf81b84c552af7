package assemble

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/omer-dayan/runai-model-streamer/pkg/platform"
)

// Repairer rewrites/bundles a package's external shared-library
// references so it is self-contained on the target platform.
type Repairer interface {
	Repair(ctx context.Context, pkgDir string, tag platform.Tag) error
}

// Validator confirms a repaired package has no unresolved external
// shared-library references left.
type Validator interface {
	Validate(ctx context.Context, pkg *Package) error
}

// ExecRepairer shells out to the platform-appropriate bundling tool
// (auditwheel-style on linux, delocate-style on macos). The tool is
// invoked as <command> <pkgDir>.
type ExecRepairer struct {
	LinuxCommand []string
	MacOSCommand []string
}

func (r *ExecRepairer) Repair(ctx context.Context, pkgDir string, tag platform.Tag) error {
	var argv []string
	switch tag.OS {
	case platform.OSLinux:
		argv = r.LinuxCommand
	case platform.OSMacOS:
		argv = r.MacOSCommand
	default:
		return fmt.Errorf("no repair tool for os %q", tag.OS)
	}
	if len(argv) == 0 {
		return fmt.Errorf("repair tool not configured for os %q", tag.OS)
	}

	args := append(append([]string(nil), argv[1:]...), pkgDir)
	//nolint:gosec // G204: command comes from the release config
	cmd := exec.CommandContext(ctx, argv[0], args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("repair tool failed: %w, output: %s", err, out)
	}
	return nil
}

// LayoutValidator is the default Validator: every manifest library
// must be present in the package's runtime-library directory under
// its platform file name and be non-empty. External reference
// scanning is delegated to the repair tool's own verification mode
// when one is configured.
type LayoutValidator struct{}

func (LayoutValidator) Validate(ctx context.Context, pkg *Package) error {
	for _, library := range pkg.Libraries {
		name, err := platform.LibraryFileName(library, pkg.Platform.OS)
		if err != nil {
			return err
		}
		info, err := os.Stat(pkg.LibraryPath(name))
		if err != nil {
			return fmt.Errorf("library %s missing from package: %w", name, err)
		}
		if info.Size() == 0 {
			return fmt.Errorf("library %s is empty", name)
		}
	}
	return nil
}
