package platform_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omer-dayan/runai-model-streamer/pkg/platform"
)

func TestExpandMatrix_SortsAndDeduplicates(t *testing.T) {
	entries := []platform.Tag{
		{OS: platform.OSMacOS, Arch: platform.ArchARM64},
		{OS: platform.OSLinux, Arch: platform.ArchX8664},
		{OS: platform.OSLinux, Arch: platform.ArchAarch64},
		{OS: platform.OSLinux, Arch: platform.ArchX8664}, // duplicate
	}

	got, err := platform.ExpandMatrix(entries)
	require.NoError(t, err)

	expected := []platform.Tag{
		{OS: platform.OSLinux, Arch: platform.ArchAarch64},
		{OS: platform.OSLinux, Arch: platform.ArchX8664},
		{OS: platform.OSMacOS, Arch: platform.ArchARM64},
	}
	assert.Equal(t, expected, got)
}

func TestExpandMatrix_StableAcrossRuns(t *testing.T) {
	entries := []platform.Tag{
		{OS: platform.OSMacOS, Arch: platform.ArchX8664},
		{OS: platform.OSLinux, Arch: platform.ArchAarch64},
	}

	first, err := platform.ExpandMatrix(entries)
	require.NoError(t, err)
	second, err := platform.ExpandMatrix(entries)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestExpandMatrix_RejectsWindows(t *testing.T) {
	_, err := platform.ExpandMatrix([]platform.Tag{
		{OS: platform.OSLinux, Arch: platform.ArchX8664},
		{OS: platform.OSWindows, Arch: platform.ArchX8664},
	})
	require.Error(t, err)

	var cfgErr *platform.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, platform.OSWindows, cfgErr.Tag.OS)
}

func TestExpandMatrix_RejectsUnknownArchPairing(t *testing.T) {
	// arm64 is the macOS spelling; linux uses aarch64.
	_, err := platform.ExpandMatrix([]platform.Tag{
		{OS: platform.OSLinux, Arch: platform.ArchARM64},
	})
	var cfgErr *platform.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestExpandMatrix_Empty(t *testing.T) {
	got, err := platform.ExpandMatrix(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSupported_IgnoresABI(t *testing.T) {
	tag := platform.Tag{OS: platform.OSLinux, Arch: platform.ArchX8664, ABI: "manylinux_2_17"}
	assert.True(t, platform.Supported(tag))
}
