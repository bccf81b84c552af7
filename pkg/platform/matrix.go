package platform

import (
	"fmt"
	"sort"
)

// ConfigError reports a requested target outside the supported build
// matrix. It is user-fixable before a run starts.
type ConfigError struct {
	Tag    Tag
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("platform config error for %s: %s", e.Tag, e.Reason)
}

// supportedPairs is the closed set of (os, arch) pairs the toolchain
// can build. Windows and musl-based variants are rejected outright
// rather than silently skipped.
var supportedPairs = map[Tag]bool{
	{OS: OSLinux, Arch: ArchX8664}:   true,
	{OS: OSLinux, Arch: ArchAarch64}: true,
	{OS: OSMacOS, Arch: ArchX8664}:   true,
	{OS: OSMacOS, Arch: ArchARM64}:   true,
}

// Supported reports whether the tag's (os, arch) pair is buildable.
// The ABI field does not participate in the check.
func Supported(t Tag) bool {
	return supportedPairs[Tag{OS: t.OS, Arch: t.Arch}]
}

// ExpandMatrix validates and normalizes the requested target list:
// every entry must be in the supported set, exact duplicates are
// dropped, and the result is sorted by os then arch (then abi) so
// downstream logs and artifact listings are stable across runs.
func ExpandMatrix(entries []Tag) ([]Tag, error) {
	seen := make(map[Tag]bool, len(entries))
	out := make([]Tag, 0, len(entries))
	for _, t := range entries {
		if !Supported(t) {
			return nil, &ConfigError{Tag: t, Reason: "unsupported os/arch pair"}
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OS != out[j].OS {
			return out[i].OS < out[j].OS
		}
		if out[i].Arch != out[j].Arch {
			return out[i].Arch < out[j].Arch
		}
		return out[i].ABI < out[j].ABI
	})
	return out, nil
}
