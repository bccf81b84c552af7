package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/omer-dayan/runai-model-streamer/pkg/platform"
)

// FileStore is a filesystem-backed Store. Blobs live under
// <base>/<os>/<arch>[/<abi>]/<library>.blob and are written atomically
// (temp file then rename), so a crashed run never leaves a
// half-written artifact behind.
type FileStore struct {
	baseDir string
	mu      sync.Mutex
	locks   map[platform.Tag]*sync.RWMutex
}

// NewFileStore creates a store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	//nolint:gosec // G301: 0755 is intentional for shared artifact directory
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure artifact dir: %w", err)
	}
	return &FileStore{
		baseDir: baseDir,
		locks:   make(map[platform.Tag]*sync.RWMutex),
	}, nil
}

func (s *FileStore) lockFor(tag platform.Tag) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[tag]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[tag] = l
	}
	return l
}

func (s *FileStore) platformDir(tag platform.Tag) string {
	dir := filepath.Join(s.baseDir, string(tag.OS), string(tag.Arch))
	if tag.ABI != "" {
		dir = filepath.Join(dir, tag.ABI)
	}
	return dir
}

func (s *FileStore) blobPath(tag platform.Tag, library string) string {
	return filepath.Join(s.platformDir(tag), library+".blob")
}

func (s *FileStore) Put(ctx context.Context, a Artifact) error {
	l := s.lockFor(a.Platform)
	l.Lock()
	defer l.Unlock()

	path := s.blobPath(a.Platform, a.LibraryName)

	// Idempotent on identical checksum.
	if existing, err := os.ReadFile(path); err == nil { //nolint:gosec // path built from validated tag
		if Checksum(existing) == a.Checksum {
			return nil
		}
	}

	//nolint:gosec // G301: 0755 is intentional for shared artifact directory
	if err := os.MkdirAll(s.platformDir(a.Platform), 0755); err != nil {
		return fmt.Errorf("failed to ensure platform dir: %w", err)
	}

	// Write to temp, then rename.
	tmpPath := path + ".tmp"
	//nolint:gosec // G306: 0644 is intentional for readable blob files
	if err := os.WriteFile(tmpPath, a.Blob, 0644); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to commit blob: %w", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, tag platform.Tag, library string) (Artifact, error) {
	l := s.lockFor(tag)
	l.RLock()
	defer l.RUnlock()

	path := s.blobPath(tag, library)
	blob, err := os.ReadFile(path) //nolint:gosec // path built from validated tag
	if err != nil {
		if os.IsNotExist(err) {
			return Artifact{}, &NotFoundError{Platform: tag, LibraryName: library}
		}
		return Artifact{}, fmt.Errorf("failed to read blob for %s/%s: %w", tag, library, err)
	}
	return New(tag, library, blob), nil
}

func (s *FileStore) List(ctx context.Context, tag platform.Tag) ([]string, error) {
	l := s.lockFor(tag)
	l.RLock()
	defer l.RUnlock()

	entries, err := os.ReadDir(s.platformDir(tag))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list platform dir for %s: %w", tag, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) != ".blob" {
			continue
		}
		names = append(names, name[:len(name)-len(".blob")])
	}
	sort.Strings(names)
	return names, nil
}
