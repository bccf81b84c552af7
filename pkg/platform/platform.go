// Package platform defines the build-target matrix for the native
// streamer library: which (operating system, CPU architecture) pairs
// are built, and the platform-specific naming rules for the shared
// objects they produce.
package platform

import (
	"fmt"
	"strings"
)

// OS is a target operating system.
type OS string

const (
	OSLinux   OS = "linux"
	OSMacOS   OS = "macos"
	OSWindows OS = "windows"
)

// Arch is a target CPU architecture.
type Arch string

const (
	ArchX8664   Arch = "x86_64"
	ArchAarch64 Arch = "aarch64"
	ArchARM64   Arch = "arm64"
)

// Tag identifies one build target. Tags are immutable values and act
// as the join key between the build, staging and packaging phases.
// Two Tags are equal iff all fields match exactly.
type Tag struct {
	OS   OS
	Arch Arch
	ABI  string // optional, e.g. "manylinux_2_17"
}

// String returns the canonical "os/arch" form used in logs, staging
// keys and artifact listings. The ABI, when present, is appended as a
// third segment.
func (t Tag) String() string {
	if t.ABI != "" {
		return fmt.Sprintf("%s/%s/%s", t.OS, t.Arch, t.ABI)
	}
	return fmt.Sprintf("%s/%s", t.OS, t.Arch)
}

// ParseTag parses "os/arch" or "os/arch/abi" into a Tag. It does not
// check the tag against the supported set; callers that need that go
// through ExpandMatrix.
func ParseTag(s string) (Tag, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 && len(parts) != 3 {
		return Tag{}, fmt.Errorf("invalid platform tag %q: want os/arch or os/arch/abi", s)
	}
	tag := Tag{OS: OS(parts[0]), Arch: Arch(parts[1])}
	if len(parts) == 3 {
		tag.ABI = parts[2]
	}
	if tag.OS == "" || tag.Arch == "" {
		return Tag{}, fmt.Errorf("invalid platform tag %q: empty os or arch", s)
	}
	return tag, nil
}

// SharedObjectSuffix maps an operating system to its shared-library
// file suffix. The mapping is total over the supported set and fails
// fast for anything else; there is deliberately no ".so" fallback for
// unknown systems.
func SharedObjectSuffix(os OS) (string, error) {
	switch os {
	case OSLinux:
		return ".so", nil
	case OSMacOS:
		return ".dylib", nil
	default:
		return "", fmt.Errorf("no shared-object suffix for os %q", os)
	}
}

// LibraryFileName returns the platform-appropriate file name for a
// library, e.g. ("streamer", linux) -> "libstreamer.so".
func LibraryFileName(library string, os OS) (string, error) {
	suffix, err := SharedObjectSuffix(os)
	if err != nil {
		return "", err
	}
	return "lib" + library + suffix, nil
}

// WheelPlatformTag returns the distribution platform tag used in
// package file names for a supported target.
func WheelPlatformTag(t Tag) (string, error) {
	switch (Tag{OS: t.OS, Arch: t.Arch}) {
	case Tag{OS: OSLinux, Arch: ArchX8664}:
		return "manylinux_2_17_x86_64", nil
	case Tag{OS: OSLinux, Arch: ArchAarch64}:
		return "manylinux_2_17_aarch64", nil
	case Tag{OS: OSMacOS, Arch: ArchX8664}:
		return "macosx_11_0_x86_64", nil
	case Tag{OS: OSMacOS, Arch: ArchARM64}:
		return "macosx_11_0_arm64", nil
	default:
		return "", fmt.Errorf("no wheel platform tag for %s", t)
	}
}
