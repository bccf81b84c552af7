package build

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/omer-dayan/runai-model-streamer/pkg/platform"
)

// CompileResult is what the external toolchain hands back: the
// produced blobs keyed by target name, plus the full toolchain log.
// A target with no produced artifact is simply absent from Artifacts;
// the Coordinator decides what that means.
type CompileResult struct {
	Artifacts map[string][]byte
	Log       string
}

// Compiler is the external native toolchain, invoked once per
// platform for all targets. Implementations must honor ctx
// cancellation and deadlines.
type Compiler interface {
	Compile(ctx context.Context, tag platform.Tag, targets []string) (CompileResult, error)
}

// ExecCompiler runs the toolchain as a subprocess. The command is
// invoked as:
//
//	<command> <args...> --os <os> --arch <arch> --targets <a,b> --output <dir>
//
// and is expected to drop lib<target><suffix> files into the output
// directory.
type ExecCompiler struct {
	Command   string
	Args      []string
	OutputDir string
}

func (c *ExecCompiler) Compile(ctx context.Context, tag platform.Tag, targets []string) (CompileResult, error) {
	outDir := filepath.Join(c.OutputDir, string(tag.OS), string(tag.Arch))
	//nolint:gosec // G301: 0755 is intentional for toolchain output directory
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return CompileResult{}, fmt.Errorf("failed to ensure output dir: %w", err)
	}

	args := append([]string(nil), c.Args...)
	args = append(args,
		"--os", string(tag.OS),
		"--arch", string(tag.Arch),
		"--targets", strings.Join(targets, ","),
		"--output", outDir,
	)

	//nolint:gosec // G204: command and args come from the release config
	cmd := exec.CommandContext(ctx, c.Command, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return CompileResult{Log: string(out)}, fmt.Errorf("toolchain failed for %s: %w", tag, err)
	}

	result := CompileResult{
		Artifacts: make(map[string][]byte, len(targets)),
		Log:       string(out),
	}
	for _, target := range targets {
		name, err := platform.LibraryFileName(target, tag.OS)
		if err != nil {
			return result, err
		}
		blob, err := os.ReadFile(filepath.Join(outDir, name)) //nolint:gosec // path from validated tag
		if err != nil {
			if os.IsNotExist(err) {
				continue // coordinator flags the missing target
			}
			return result, fmt.Errorf("failed to read toolchain output %s: %w", name, err)
		}
		result.Artifacts[target] = blob
	}
	return result, nil
}
