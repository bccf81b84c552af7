package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/omer-dayan/runai-model-streamer/pkg/endpoint"
	"github.com/omer-dayan/runai-model-streamer/pkg/platform"
)

// S3Store implements Store using AWS S3. It is used to move staged
// artifacts between the build machines and the packaging machine when
// they are not the same host.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string // optional key prefix (e.g. "staging/")
}

// S3StoreConfig holds configuration for S3Store.
type S3StoreConfig struct {
	Bucket   string
	Region   string
	Endpoint string // optional explicit endpoint; environment overrides apply otherwise
	Prefix   string
}

// NewS3Store creates an S3-backed artifact store. The service URL is
// chosen by the endpoint resolver: an explicit cfg.Endpoint wins, then
// the service-scoped and generic environment overrides, then the
// provider default (left to the SDK).
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	resolution := endpoint.Resolve(endpoint.FromEnv(cfg.Endpoint))
	clientOpts := func(o *s3.Options) {
		if resolution.Overridden() {
			o.BaseEndpoint = aws.String(resolution.URL)
			o.UsePathStyle = true // required for MinIO/LocalStack
		}
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg, clientOpts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *S3Store) key(tag platform.Tag, library string) string {
	parts := []string{string(tag.OS), string(tag.Arch)}
	if tag.ABI != "" {
		parts = append(parts, tag.ABI)
	}
	parts = append(parts, library+".blob")
	return s.prefix + strings.Join(parts, "/")
}

func (s *S3Store) Put(ctx context.Context, a Artifact) error {
	key := s.key(a.Platform, a.LibraryName)

	// Idempotent on identical checksum: compare against the stored
	// object's checksum metadata before uploading.
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil && head.Metadata["checksum"] == a.Checksum {
		return nil
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(a.Blob),
		ContentType: aws.String("application/octet-stream"),
		Metadata:    map[string]string{"checksum": a.Checksum},
	})
	if err != nil {
		return fmt.Errorf("s3 put failed for %s/%s: %w", a.Platform, a.LibraryName, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, tag platform.Tag, library string) (Artifact, error) {
	key := s.key(tag, library)

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		// The SDK reports missing keys as NoSuchKey; map everything
		// else through as a store failure.
		if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "NotFound") {
			return Artifact{}, &NotFoundError{Platform: tag, LibraryName: library}
		}
		return Artifact{}, fmt.Errorf("s3 get failed for %s/%s: %w", tag, library, err)
	}
	defer func() { _ = result.Body.Close() }()

	blob, err := io.ReadAll(result.Body)
	if err != nil {
		return Artifact{}, fmt.Errorf("s3 read failed for %s/%s: %w", tag, library, err)
	}
	return New(tag, library, blob), nil
}

func (s *S3Store) List(ctx context.Context, tag platform.Tag) ([]string, error) {
	prefix := s.key(tag, "")
	prefix = strings.TrimSuffix(prefix, ".blob")

	var names []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list failed for %s: %w", tag, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".blob") {
				continue
			}
			name := strings.TrimSuffix(key[len(prefix):], ".blob")
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
