package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used by this package.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 reads files from a repository stored in an S3 bucket.
type S3 struct {
	client S3API
	bucket string
	prefix string
}

// NewS3 creates a source for the repository under prefix in bucket.
func NewS3(client S3API, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3) Open(ctx context.Context, file string) (io.ReadCloser, int64, error) {
	key := file
	if s.prefix != "" {
		key = path.Join(s.prefix, file)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, 0, &NotFoundError{File: file, Source: s.String()}
		}
		return nil, 0, fmt.Errorf("failed to read s3://%s/%s: %w", s.bucket, key, err)
	}

	return out.Body, aws.ToInt64(out.ContentLength), nil
}

func (s *S3) String() string {
	return "s3://" + path.Join(s.bucket, s.prefix)
}
