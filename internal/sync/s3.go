package sync

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config locates the bucket an export is uploaded to.
type S3Config struct {
	Bucket string
	// Key is the object key. A key ending in "/" is a prefix: every export
	// is written to a new timestamped object below it instead of
	// overwriting one object.
	Key    string
	Region string
	// Endpoint enables path-style addressing against an S3-compatible
	// server (MinIO and similar).
	Endpoint string
}

// S3Destination writes JSONL data to an S3-compatible bucket.
type S3Destination struct {
	client *s3.Client
	cfg    S3Config
	now    func() time.Time
}

// NewS3Destination creates an S3 destination using the default AWS
// credential chain.
func NewS3Destination(ctx context.Context, cfg S3Config) (*S3Destination, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 destination: bucket is required")
	}
	if cfg.Key == "" {
		cfg.Key = "agentlog.jsonl"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return &S3Destination{
		client: s3.NewFromConfig(awsCfg, s3opts...),
		cfg:    cfg,
		now:    time.Now,
	}, nil
}

// objectKey returns the key the next export is written to.
func (d *S3Destination) objectKey() string {
	if !strings.HasSuffix(d.cfg.Key, "/") {
		return d.cfg.Key
	}
	return d.cfg.Key + "agentlog-" + d.now().UTC().Format("20060102T150405Z") + ".jsonl"
}

// Write uploads data to the bucket.
func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	key := d.objectKey()
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3 put object %s: %w", key, err)
	}
	return nil
}
