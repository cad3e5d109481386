package auditlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// ArchiveConfig configures the S3 archive destination.
type ArchiveConfig struct {
	// Bucket is the destination bucket name. Required.
	Bucket string

	// Prefix is prepended to archive object keys.
	// Default: "audit/"
	Prefix string

	// Region is the bucket region. Empty lets the SDK resolve it from
	// the environment or shared config.
	Region string

	// Endpoint overrides the S3 endpoint for S3-compatible stores
	// (MinIO, R2, Wasabi).
	Endpoint string

	// Profile selects a shared-config profile.
	Profile string

	// AccessKeyID and SecretAccessKey provide explicit static
	// credentials. When empty the SDK default credential chain applies.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle uses path-style addressing, required by most
	// S3-compatible endpoints.
	ForcePathStyle bool
}

// Validate checks the archive configuration.
func (c ArchiveConfig) Validate() error {
	if c.Bucket == "" {
		return errors.New("archive bucket is required")
	}
	return nil
}

// Archiver uploads JSONL audit exports to S3-compatible storage.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewArchiver builds an archiver using the SDK default credential chain
// unless explicit credentials are configured.
func NewArchiver(ctx context.Context, cfg ArchiveConfig) (*Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, &StoreError{Op: "load aws config", Err: err}
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.UsePathStyle = cfg.ForcePathStyle
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "audit/"
	}

	return &Archiver{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: prefix,
	}, nil
}

// Archive exports matching entries and uploads them as one JSONL object.
// The object key embeds the upload time: <prefix>audit-20260115T020304Z.jsonl.
// Returns the object key and the number of entries archived.
func (a *Archiver) Archive(ctx context.Context, store *Store, q Query) (string, int, error) {
	var buf bytes.Buffer
	n, err := store.Export(ctx, &buf, q)
	if err != nil {
		return "", 0, err
	}

	key := fmt.Sprintf("%saudit-%s.jsonl", a.prefix, time.Now().UTC().Format("20060102T150405Z"))

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(int64(buf.Len())),
		ContentType:   aws.String("application/x-ndjson"),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return "", 0, &StoreError{
				Op:  "archive upload",
				Err: fmt.Errorf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage()),
			}
		}
		return "", 0, &StoreError{Op: "archive upload", Err: err}
	}
	return key, n, nil
}
