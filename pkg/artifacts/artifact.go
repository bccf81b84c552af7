// Package artifacts stages compiled shared libraries between the
// build phase and the packaging phase. Artifacts are keyed by
// (platform tag, library name); the store is scoped to one release
// run and carries no eviction policy.
package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/omer-dayan/runai-model-streamer/pkg/platform"
)

// Artifact is one compiled shared library for one platform. Immutable
// after creation.
type Artifact struct {
	Platform    platform.Tag
	LibraryName string
	Blob        []byte
	Checksum    string // "sha256:<hex>" of Blob
}

// New builds an Artifact, computing its checksum from the blob.
func New(tag platform.Tag, library string, blob []byte) Artifact {
	return Artifact{
		Platform:    tag,
		LibraryName: library,
		Blob:        blob,
		Checksum:    Checksum(blob),
	}
}

// Checksum returns the content hash in the "sha256:<hex>" form used
// throughout the release pipeline.
func Checksum(blob []byte) string {
	h := sha256.Sum256(blob)
	return "sha256:" + hex.EncodeToString(h[:])
}

// NotFoundError reports a missing (platform, library) key. In a
// correct pipeline this is an ordering bug, not an expected state.
type NotFoundError struct {
	Platform    platform.Tag
	LibraryName string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("artifact not found: %s for %s", e.LibraryName, e.Platform)
}
