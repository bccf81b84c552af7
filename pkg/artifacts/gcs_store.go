//go:build gcp

package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/omer-dayan/runai-model-streamer/pkg/platform"
)

// GCSStore implements Store using Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string // optional key prefix
}

// GCSStoreConfig holds configuration for GCSStore.
type GCSStoreConfig struct {
	Bucket string
	Prefix string
}

// NewGCSStore creates a GCS-backed artifact store. The client uses
// application default credentials.
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *GCSStore) objectPath(tag platform.Tag, library string) string {
	parts := []string{string(tag.OS), string(tag.Arch)}
	if tag.ABI != "" {
		parts = append(parts, tag.ABI)
	}
	parts = append(parts, library+".blob")
	return s.prefix + strings.Join(parts, "/")
}

func (s *GCSStore) Put(ctx context.Context, a Artifact) error {
	obj := s.client.Bucket(s.bucket).Object(s.objectPath(a.Platform, a.LibraryName))

	// Idempotent on identical checksum.
	attrs, err := obj.Attrs(ctx)
	if err == nil && attrs.Metadata["checksum"] == a.Checksum {
		return nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.Metadata = map[string]string{"checksum": a.Checksum}

	if _, err := w.Write(a.Blob); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write failed for %s/%s: %w", a.Platform, a.LibraryName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close failed for %s/%s: %w", a.Platform, a.LibraryName, err)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, tag platform.Tag, library string) (Artifact, error) {
	obj := s.client.Bucket(s.bucket).Object(s.objectPath(tag, library))

	reader, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return Artifact{}, &NotFoundError{Platform: tag, LibraryName: library}
		}
		return Artifact{}, fmt.Errorf("gcs get failed for %s/%s: %w", tag, library, err)
	}
	defer func() { _ = reader.Close() }()

	blob, err := io.ReadAll(reader)
	if err != nil {
		return Artifact{}, fmt.Errorf("gcs read failed for %s/%s: %w", tag, library, err)
	}
	return New(tag, library, blob), nil
}

func (s *GCSStore) List(ctx context.Context, tag platform.Tag) ([]string, error) {
	prefix := strings.TrimSuffix(s.objectPath(tag, ""), ".blob")

	var names []string
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs list failed for %s: %w", tag, err)
		}
		if !strings.HasSuffix(attrs.Name, ".blob") {
			continue
		}
		names = append(names, strings.TrimSuffix(attrs.Name[len(prefix):], ".blob"))
	}
	sort.Strings(names)
	return names, nil
}

// Close closes the GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
