package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// S3Store writes objects to Amazon S3.
type S3Store struct {
	client s3iface.S3API
}

// NewS3Store wraps an existing S3 client.
func NewS3Store(client s3iface.S3API) *S3Store {
	return &S3Store{client: client}
}

// NewS3StoreFromEnv builds a client from the default AWS credential chain
// and shared config (AWS_REGION, AWS_PROFILE, ...).
func NewS3StoreFromEnv() (*S3Store, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return NewS3Store(s3.New(sess)), nil
}

func (s *S3Store) Scheme() string {
	return "s3"
}

func (s *S3Store) PutObject(ctx context.Context, bucket, key, contentType string, body []byte) error {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	return err
}
