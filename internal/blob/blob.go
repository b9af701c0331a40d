// Package blob provides access to the object store holding image bytes.
// It wraps the S3 API with the narrow set of operations the web service and
// the consistency audit need, handling multi-page listings transparently.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// Object is a stored blob opened for reading. The caller owns Body and must
// close it.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	SizeBytes   int64
}

type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Store manages a single bucket of the object store.
type Store struct {
	client s3API
	bucket string
}

type options struct {
	client s3API
}

// Options represents an optional function to override Store default values.
type Options func(*options)

// New creates a blob store handle for the given bucket, using the ambient
// AWS configuration (environment, shared config, or instance role).
func New(ctx context.Context, bucket string, args ...Options) (*Store, error) {
	opts := options{}
	for _, opt := range args {
		opt(&opts)
	}

	if opts.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("unable to load AWS configuration: %w", err)
		}
		opts.client = s3.NewFromConfig(cfg)
	}

	return &Store{client: opts.client, bucket: bucket}, nil
}

// ListAllKeys returns every object key in the bucket, following continuation
// tokens until the store reports no more pages. A failed page fetch fails the
// whole listing; no partial result is returned.
func (s *Store) ListAllKeys(ctx context.Context) ([]string, error) {
	var keys []string
	var continuationToken *string

	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list objects in bucket %q: %w", s.bucket, err)
		}

		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuationToken = out.NextContinuationToken
	}

	slog.Debug("Listed blob store keys", "bucket", s.bucket, "count", len(keys))
	return keys, nil
}

// Download opens the named object for reading.
func (s *Store) Download(ctx context.Context, name string) (*Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object %q: %w", name, err)
	}

	return &Object{
		Body:        out.Body,
		ContentType: aws.ToString(out.ContentType),
		SizeBytes:   aws.ToInt64(out.ContentLength),
	}, nil
}

// Upload stores the object under the given name, replacing any previous
// content.
func (s *Store) Upload(ctx context.Context, name, contentType string, body io.Reader) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(name),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %q: %w", name, err)
	}

	slog.Info("Uploaded object to blob store", "bucket", s.bucket, "key", name)
	return nil
}

// Delete removes the named object. Deleting a missing object is not an error,
// matching the underlying store's semantics.
func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %q: %w", name, err)
	}

	slog.Info("Deleted object from blob store", "bucket", s.bucket, "key", name)
	return nil
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}
