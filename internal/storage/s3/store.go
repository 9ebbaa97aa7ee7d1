// Package s3 reads images stored as S3 objects.
package s3

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/islishude/imgfetch/internal/locator"
)

type Store struct {
	client *awss3.Client
}

type Settings struct {
	UsePathStyle bool
	MaxRetries   int
	// Endpoint overrides the service endpoint, for S3 compatible servers.
	Endpoint string
}

type Metadata struct {
	Size int64
	ETag string
}

func New(ctx context.Context, settings Settings) (*Store, error) {
	var opts []func(*config.LoadOptions) error
	if settings.MaxRetries > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(settings.MaxRetries))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		o.UsePathStyle = settings.UsePathStyle
		if settings.Endpoint != "" {
			o.BaseEndpoint = aws.String(settings.Endpoint)
		}
	})
	return &Store{client: client}, nil
}

func (s *Store) OpenReader(ctx context.Context, loc locator.Locator) (io.ReadCloser, Metadata, error) {
	bucket, key, err := Object(loc)
	if err != nil {
		return nil, Metadata{}, err
	}
	in := &awss3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if v := loc.Options()["versionId"]; v != "" {
		in.VersionId = aws.String(v)
	}
	out, err := s.client.GetObject(ctx, in)
	if err != nil {
		return nil, Metadata{}, err
	}
	meta := Metadata{Size: aws.ToInt64(out.ContentLength), ETag: aws.ToString(out.ETag)}
	return out.Body, meta, nil
}

// Object returns the bucket and key a locator names. The server is the
// bucket (or an access point ARN) and the path is the key.
func Object(loc locator.Locator) (bucket, key string, err error) {
	if loc.Scheme != locator.SchemeS3 {
		return "", "", fmt.Errorf("locator %q is not s3", loc.Raw)
	}
	bucket = strings.TrimSpace(loc.Server)
	if bucket == "" {
		return "", "", fmt.Errorf("s3 locator %q has no bucket", loc.Raw)
	}
	key = loc.Path
	if strings.TrimSpace(key) == "" {
		return "", "", fmt.Errorf("s3 object key cannot be empty: %q", loc.Raw)
	}
	return bucket, key, nil
}
