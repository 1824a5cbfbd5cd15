// Package sync reconciles an object-store prefix with a local mirror
// directory on a polling interval.
package sync

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v4"
)

// Object describes one remote blob.
type Object struct {
	Key          string
	ETag         string
	Size         int64
	LastModified time.Time
}

// ObjectStore is the remote side of the poller. The S3 implementation is
// the production one; tests substitute in-memory stores.
type ObjectStore interface {
	// List returns all objects under prefix, paginated internally up to
	// maxPages pages (0 means no page cap).
	List(ctx context.Context, prefix string, maxPages int) ([]Object, error)

	// Download opens the object body for reading.
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}

// s3API is the subset of the S3 client the store uses.
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store is the S3-backed ObjectStore. Transient failures are retried
// with exponential backoff and jitter before surfacing as transport
// errors.
type S3Store struct {
	client     s3API
	bucket     string
	maxRetries uint64
}

// NewS3Store creates an S3-backed store for the bucket.
func NewS3Store(client s3API, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket, maxRetries: 5}
}

// List implements ObjectStore.
func (s *S3Store) List(ctx context.Context, prefix string, maxPages int) ([]Object, error) {
	var objects []Object
	var continuation *string

	for page := 0; maxPages <= 0 || page < maxPages; page++ {
		var out *s3.ListObjectsV2Output
		err := s.retry(ctx, func() error {
			var listErr error
			out, listErr = s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(s.bucket),
				Prefix:            aws.String(prefix),
				ContinuationToken: continuation,
			})
			return listErr
		})
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.bucket, prefix, err)
		}

		for _, item := range out.Contents {
			obj := Object{Key: aws.ToString(item.Key)}
			if item.ETag != nil {
				obj.ETag = strings.Trim(*item.ETag, `"`)
			}
			if item.Size != nil {
				obj.Size = *item.Size
			}
			if item.LastModified != nil {
				obj.LastModified = *item.LastModified
			}
			objects = append(objects, obj)
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuation = out.NextContinuationToken
	}

	return objects, nil
}

// Download implements ObjectStore.
func (s *S3Store) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := s.retry(ctx, func() error {
		out, getErr := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if getErr != nil {
			return getErr
		}
		body = out.Body
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
	}
	return body, nil
}

func (s *S3Store) retry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries), ctx)
	return backoff.Retry(op, policy)
}
