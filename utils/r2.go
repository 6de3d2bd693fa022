// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"fmt"

	"rewards-ledger-system/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// R2Uploader writes payout manifests to a Cloudflare R2 bucket through the
// S3-compatible API.
type R2Uploader struct {
	client *s3.Client
	bucket string
}

// NewR2Uploader builds an S3 client pointed at the account's R2 endpoint.
func NewR2Uploader(ctx context.Context, cfg config.R2Config) (*R2Uploader, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	return &R2Uploader{client: client, bucket: cfg.Bucket}, nil
}

// PutJSON uploads body under key and returns the object location.
func (u *R2Uploader) PutJSON(ctx context.Context, key string, body []byte) (string, error) {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}
	return fmt.Sprintf("r2://%s/%s", u.bucket, key), nil
}
