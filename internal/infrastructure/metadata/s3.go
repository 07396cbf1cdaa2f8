// Package metadata implements entity.MetadataUploader: the external
// metadata storage collaborator the Mint Orchestrator checkpoints
// against at METADATA_UPLOADED. Backed by S3 directly rather than a
// generic blob abstraction, since this core never reads metadata back by
// content hash, only by ticket ID.
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ticketcore/scancore/internal/entity"
)

// Uploader implements entity.MetadataUploader over an S3 bucket.
type Uploader struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ entity.MetadataUploader = (*Uploader)(nil)

// Config configures the S3-backed metadata uploader.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional custom endpoint (MinIO/LocalStack in dev)
	Prefix   string
}

// New creates an S3-backed metadata Uploader.
func New(ctx context.Context, cfg Config) (*Uploader, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Uploader{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Upload implements entity.MetadataUploader. metadata is JSON-encoded and
// stored under a key keyed by ticketID, so a retried METADATA_UPLOADED
// step overwrites rather than accumulates objects.
func (u *Uploader) Upload(ctx context.Context, ticketID string, metadata map[string]string) (string, error) {
	body, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal ticket metadata: %w", err)
	}

	key := u.prefix + ticketID + ".json"
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put ticket metadata %s: %w", ticketID, err)
	}

	return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
}
