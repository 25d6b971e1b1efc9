// Package r2 provides a BlobStore backed by Cloudflare R2 through its S3-compatible API.
package r2

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// Config captures the R2 account, bucket, and public domain.
type Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	// PublicBaseURL is the CDN origin objects are served from, e.g. https://cdn.lmsy.space.
	PublicBaseURL string
	// Endpoint overrides https://{AccountID}.r2.cloudflarestorage.com.
	Endpoint string
}

// Validate ensures the fields needed to sign requests are present.
func (c Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("r2 bucket is required")
	}
	if c.AccountID == "" && c.Endpoint == "" {
		return errors.New("r2 account id or endpoint is required")
	}
	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return errors.New("r2 access key id and secret are required")
	}
	if c.PublicBaseURL == "" {
		return errors.New("r2 public base url is required")
	}
	return nil
}

func (c Config) endpoint() string {
	if c.Endpoint != "" {
		return strings.TrimRight(c.Endpoint, "/")
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.AccountID)
}

// objectAPI is the subset of *s3.Client the store uses.
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// BlobStore writes media objects to an R2 bucket.
type BlobStore struct {
	api       objectAPI
	bucket    string
	publicURL string
}

// New builds an S3 client pointed at R2 and wraps it in a BlobStore.
func New(ctx context.Context, cfg Config) (*BlobStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load r2 config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.endpoint())
		o.UsePathStyle = true
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	return NewWithAPI(client, cfg.Bucket, cfg.PublicBaseURL)
}

// NewWithAPI wires an existing S3-compatible client, mainly for tests.
func NewWithAPI(api objectAPI, bucket, publicBaseURL string) (*BlobStore, error) {
	if api == nil {
		return nil, errors.New("s3 client is required")
	}
	if bucket == "" {
		return nil, errors.New("r2 bucket is required")
	}
	return &BlobStore{
		api:       api,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

// PutObject uploads data under key and returns {PublicBaseURL}/{key}.
// Re-putting the same key overwrites the object.
func (s *BlobStore) PutObject(ctx context.Context, key string, contentType string, data io.Reader) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("path is required")
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read object body: %w", err)
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.api.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return s.publicURL + "/" + key, nil
}

// DeleteObject removes key. R2 treats missing keys as success; NoSuchKey is tolerated too.
func (s *BlobStore) DeleteObject(ctx context.Context, key string) error {
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
		return nil
	}
	return fmt.Errorf("delete object %s: %w", key, err)
}
