package storage

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"flipr_ingest/config"
	"flipr_ingest/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectPutter is the subset of the S3 client the archive uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive stores raw provider responses so a page can be replayed or audited later.
type S3Archive struct {
	client ObjectPutter
	bucket string
	now    func() time.Time
}

// NewS3Archive builds an archive against AWS or an S3-compatible endpoint.
func NewS3Archive(ctx context.Context, cfg config.S3Config) (*S3Archive, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return NewS3ArchiveWithClient(client, cfg.Bucket), nil
}

func NewS3ArchiveWithClient(client ObjectPutter, bucket string) *S3Archive {
	return &S3Archive{client: client, bucket: bucket, now: time.Now}
}

// ArchivePage writes one response body and returns its key.
func (a *S3Archive) ArchivePage(ctx context.Context, src models.Source, city string, cursor int, body []byte) (string, error) {
	key := PageKey(src, city, cursor, a.now())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return key, nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// PageKey is raw/<source>/<city-slug>/<cursor>-<unix>.json.
func PageKey(src models.Source, city string, cursor int, at time.Time) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(city), "-"), "-")
	return fmt.Sprintf("raw/%s/%s/%d-%d.json", src, slug, cursor, at.Unix())
}
