package artifacts

import (
	"context"
	"fmt"
	"os"
)

// StoreType selects the staging backend.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFS     StoreType = "fs"
	StoreTypeS3     StoreType = "s3"
	StoreTypeGCS    StoreType = "gcs"
)

// Environment variables consulted by NewStoreFromEnv. The backend
// defaults to memory, which is enough for a single-host release run;
// fs and s3/gcs exist for resumable runs and CI pipelines whose build
// and packaging jobs run on different machines.
const (
	EnvStoreType = "STREAMER_ARTIFACT_STORE" // memory (default) | fs | s3 | gcs
	EnvFSDir     = "STREAMER_ARTIFACT_DIR"   // fs backend root, default "artifacts"

	EnvS3Bucket   = "STREAMER_ARTIFACT_S3_BUCKET" // required for s3
	EnvS3Region   = "STREAMER_ARTIFACT_S3_REGION" // falls back to AWS_REGION
	EnvS3Endpoint = "STREAMER_ARTIFACT_S3_ENDPOINT"
	EnvS3Prefix   = "STREAMER_ARTIFACT_S3_PREFIX"

	EnvGCSBucket = "STREAMER_ARTIFACT_GCS_BUCKET" // required for gcs
	EnvGCSPrefix = "STREAMER_ARTIFACT_GCS_PREFIX"
)

// NewStoreFromEnv builds the artifact store selected by the
// environment.
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	switch storeType := StoreType(os.Getenv(EnvStoreType)); storeType {
	case "", StoreTypeMemory:
		return NewMemoryStore(), nil
	case StoreTypeFS:
		dir := os.Getenv(EnvFSDir)
		if dir == "" {
			dir = "artifacts"
		}
		return NewFileStore(dir)
	case StoreTypeS3:
		return newS3StoreFromEnv(ctx)
	case StoreTypeGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported artifact store type %q", storeType)
	}
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv(EnvS3Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("%s is required for the s3 artifact store", EnvS3Bucket)
	}

	region := os.Getenv(EnvS3Region)
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Store(ctx, S3StoreConfig{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv(EnvS3Endpoint),
		Prefix:   os.Getenv(EnvS3Prefix),
	})
}
