// Package mediastore generates time-limited presigned URLs for call audio
// held in the recordings object store.
package mediastore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultExpiry matches the review window data-science workflows expect.
const DefaultExpiry = 7 * 24 * time.Hour

// presigner is the slice of the S3 presign client this package uses.
type presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Store signs object URLs against the recordings bucket. Construct one per
// run and pass it down; it owns no global state.
type Store struct {
	presigner presigner
	expiry    time.Duration
}

// New builds a Store from the ambient AWS credential chain.
func New(ctx context.Context, expiry time.Duration) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("mediastore: load aws config: %w", err)
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Store{
		presigner: s3.NewPresignClient(s3.NewFromConfig(cfg)),
		expiry:    expiry,
	}, nil
}

// NewWithPresigner is for tests and callers with a pre-built client.
func NewWithPresigner(p presigner, expiry time.Duration) *Store {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Store{presigner: p, expiry: expiry}
}

// SignURL resolves the bucket and key behind an audio URL and returns a
// presigned GET for the same object.
func (s *Store) SignURL(ctx context.Context, rawURL string) (string, error) {
	bucket, key, err := ParseObjectURL(rawURL)
	if err != nil {
		return "", err
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return "", fmt.Errorf("mediastore: presign %s/%s: %w", bucket, key, err)
	}
	return req.URL, nil
}

// ParseObjectURL extracts (bucket, key) from an object URL. Virtual-hosted
// S3 URLs carry the bucket in the first host label; CDN-style URLs carry it
// as the first path segment.
func ParseObjectURL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("mediastore: parse object URL: %w", err)
	}
	path := strings.TrimPrefix(u.Path, "/")
	if path == "" {
		return "", "", fmt.Errorf("mediastore: object URL %q has no key", rawURL)
	}

	host := u.Hostname()
	if idx := strings.Index(host, ".s3"); idx > 0 {
		return host[:idx], path, nil
	}

	bucket, key, found := strings.Cut(path, "/")
	if !found || key == "" {
		return "", "", fmt.Errorf("mediastore: cannot resolve bucket from %q", rawURL)
	}
	return bucket, key, nil
}
