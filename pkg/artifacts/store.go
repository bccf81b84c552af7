package artifacts

import (
	"context"
	"sort"
	"sync"

	"github.com/omer-dayan/runai-model-streamer/pkg/platform"
)

// Store is the staging area between the build and packaging phases.
//
// Put is idempotent on identical checksum: re-running a build for the
// same (platform, library) overwrites only when the checksum differs,
// otherwise it is a no-op. Keys are platform-scoped, so concurrent
// access from different platform workers never contends; within one
// platform key, Put serializes against Get so a reader can never see
// a half-written artifact.
type Store interface {
	Put(ctx context.Context, a Artifact) error
	Get(ctx context.Context, tag platform.Tag, library string) (Artifact, error)
	List(ctx context.Context, tag platform.Tag) ([]string, error)
}

// MemoryStore is the in-process implementation used for a single
// release run.
type MemoryStore struct {
	mu     sync.Mutex // guards the shard map only
	shards map[platform.Tag]*shard
}

type shard struct {
	mu   sync.RWMutex
	libs map[string]Artifact
}

// NewMemoryStore creates an empty run-scoped store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{shards: make(map[platform.Tag]*shard)}
}

func (s *MemoryStore) shardFor(tag platform.Tag) *shard {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shards[tag]
	if !ok {
		sh = &shard{libs: make(map[string]Artifact)}
		s.shards[tag] = sh
	}
	return sh
}

func (s *MemoryStore) Put(ctx context.Context, a Artifact) error {
	sh := s.shardFor(a.Platform)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if existing, ok := sh.libs[a.LibraryName]; ok && existing.Checksum == a.Checksum {
		return nil // identical content, retried build
	}
	sh.libs[a.LibraryName] = a
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, tag platform.Tag, library string) (Artifact, error) {
	sh := s.shardFor(tag)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	a, ok := sh.libs[library]
	if !ok {
		return Artifact{}, &NotFoundError{Platform: tag, LibraryName: library}
	}
	return a, nil
}

func (s *MemoryStore) List(ctx context.Context, tag platform.Tag) ([]string, error) {
	sh := s.shardFor(tag)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	names := make([]string, 0, len(sh.libs))
	for name := range sh.libs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
