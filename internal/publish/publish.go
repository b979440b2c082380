// Package publish uploads finished renders to an S3 compatible bucket.
package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/bdougie/framefx/internal/config"
)

// ErrNotConfigured is returned by New when no bucket is configured.
var ErrNotConfigured = errors.New("publishing is not configured")

// Publisher uploads files and reports where they can be fetched from.
type Publisher struct {
	client    *s3.Client
	bucket    string
	region    string
	endpoint  string
	publicURL string
}

// New creates a publisher from the S3 section of the configuration. A custom
// endpoint (R2, MinIO) is used with path-style addressing.
func New(ctx context.Context, cfg config.S3Config) (*Publisher, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: cfg.Endpoint, HostnameImmutable: true}, nil
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.Endpoint != ""
	})

	return &Publisher{
		client:    client,
		bucket:    cfg.Bucket,
		region:    cfg.Region,
		endpoint:  cfg.Endpoint,
		publicURL: cfg.PublicURL,
	}, nil
}

// Upload stores the file at localPath under key and returns its public URL.
func (p *Publisher) Upload(ctx context.Context, key, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(ContentType(localPath)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to bucket %s: %w", key, p.bucket, err)
	}

	return p.PublicURL(key), nil
}

// PublicURL returns the URL an uploaded key is served from.
func (p *Publisher) PublicURL(key string) string {
	return objectURL(p.publicURL, p.endpoint, p.bucket, p.region, key)
}

func objectURL(publicURL, endpoint, bucket, region, key string) string {
	key = strings.TrimLeft(key, "/")
	switch {
	case publicURL != "":
		return strings.TrimRight(publicURL, "/") + "/" + key
	case endpoint != "":
		return strings.TrimRight(endpoint, "/") + "/" + bucket + "/" + key
	case region == "" || region == "auto":
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", bucket, key)
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key)
	}
}

// ObjectKey builds the bucket key of a job's output.
func ObjectKey(jobID, localPath string) string {
	return path.Join("renders", jobID, filepath.Base(localPath))
}

// ContentType guesses the MIME type of a render from its extension.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
