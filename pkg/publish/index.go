package publish

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/time/rate"

	"github.com/omer-dayan/runai-model-streamer/pkg/assemble"
	"github.com/omer-dayan/runai-model-streamer/pkg/endpoint"
)

// Index is the distribution index the release is published to.
type Index interface {
	// Upload pushes one package and returns the index's record ID.
	Upload(ctx context.Context, pkg *assemble.Package) (string, error)
	// Yank marks a previously uploaded package as withdrawn. It never
	// deletes the package bytes.
	Yank(ctx context.Context, recordID string) error
}

// S3Index publishes packages to an S3-compatible bucket laid out as a
// flat file index. Uploads are rate limited so a wide matrix does not
// hammer self-hosted MinIO deployments.
type S3Index struct {
	client  *s3.Client
	bucket  string
	prefix  string
	limiter *rate.Limiter
}

// S3IndexConfig holds configuration for S3Index.
type S3IndexConfig struct {
	Bucket    string
	Region    string
	Endpoint  string // optional explicit endpoint; environment overrides apply otherwise
	Prefix    string
	UploadRPS float64 // uploads per second, 0 means 2
}

// NewS3Index creates the index client. The service URL goes through
// the endpoint resolver, same precedence as the artifact store.
func NewS3Index(ctx context.Context, cfg S3IndexConfig) (*S3Index, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	resolution := endpoint.Resolve(endpoint.FromEnv(cfg.Endpoint))
	clientOpts := func(o *s3.Options) {
		if resolution.Overridden() {
			o.BaseEndpoint = aws.String(resolution.URL)
			o.UsePathStyle = true
		}
	}

	rps := cfg.UploadRPS
	if rps <= 0 {
		rps = 2
	}

	return &S3Index{
		client:  s3.NewFromConfig(awsCfg, clientOpts),
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}, nil
}

func (i *S3Index) Upload(ctx context.Context, pkg *assemble.Package) (string, error) {
	if err := i.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("upload rate limiter: %w", err)
	}

	fileName, err := pkg.FileName()
	if err != nil {
		return "", err
	}

	archive, err := zipDir(pkg.Dir)
	if err != nil {
		return "", fmt.Errorf("archive package %s: %w", fileName, err)
	}

	key := i.prefix + fileName
	_, err = i.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(i.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(archive),
		ContentType: aws.String("application/zip"),
	})
	if err != nil {
		return "", fmt.Errorf("index upload failed for %s: %w", fileName, err)
	}
	return key, nil
}

func (i *S3Index) Yank(ctx context.Context, recordID string) error {
	// A yank is a marker object next to the package, not a delete;
	// installers already holding the package are unaffected.
	_, err := i.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(i.bucket),
		Key:         aws.String(recordID + ".yanked"),
		Body:        bytes.NewReader(nil),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("index yank failed for %s: %w", recordID, err)
	}
	return nil
}

// zipDir archives a package directory preserving relative paths.
func zipDir(dir string) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		f, err := w.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		src, err := os.Open(path) //nolint:gosec // walking the package dir we created
		if err != nil {
			return err
		}
		defer func() { _ = src.Close() }()
		_, err = io.Copy(f, src)
		return err
	})
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
