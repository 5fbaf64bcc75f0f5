// Package avatar stores profile pictures in S3-compatible object storage.
package avatar

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/dukerupert/roomie/internal/apperr"
)

// MaxSize is the largest accepted upload in bytes.
const MaxSize = 2 << 20

var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
}

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Config holds S3-compatible storage configuration. PublicURL is the base
// under which uploaded objects are served; it defaults to
// Endpoint/Bucket.
type Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	PublicURL string
}

type Store struct {
	client    s3Client
	bucket    string
	publicURL string
}

// New returns nil when the bucket or credentials are missing, which
// disables avatar uploads.
func New(cfg Config) *Store {
	if cfg.Bucket == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil
	}
	return newStore(newS3Client(cfg), cfg)
}

func newStore(client s3Client, cfg Config) *Store {
	base := cfg.PublicURL
	if base == "" {
		base = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return &Store{client: client, bucket: cfg.Bucket, publicURL: strings.TrimRight(base, "/")}
}

func newS3Client(cfg Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Upload stores an image for userID and returns its public URL.
func (s *Store) Upload(ctx context.Context, userID int64, contentType string, body io.Reader, size int64) (string, error) {
	ext, ok := extensions[contentType]
	if !ok {
		return "", apperr.Validation("avatar must be a JPEG, PNG, WebP or GIF image")
	}
	if size <= 0 || size > MaxSize {
		return "", apperr.Validation("avatar must be at most 2 MB")
	}

	key := fmt.Sprintf("avatars/%d/%s.%s", userID, uuid.NewString(), ext)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", apperr.Transient("upload avatar", err)
	}
	return s.publicURL + "/" + key, nil
}

// Remove deletes a previously uploaded avatar. URLs outside this store are
// ignored.
func (s *Store) Remove(ctx context.Context, url string) error {
	key, ok := strings.CutPrefix(url, s.publicURL+"/")
	if !ok || !strings.HasPrefix(key, "avatars/") {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete avatar %s: %w", key, err)
	}
	return nil
}
