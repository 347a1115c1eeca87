package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"meetingalert/internal/types"
)

// S3API abstracts the S3 object operations used by S3Store.
// Production code uses the *s3.Client from aws-sdk-go-v2.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store keeps the snapshot in a single S3 object, replaced on every save.
type S3Store struct {
	client S3API
	bucket string
	key    string
	now    func() time.Time
}

// NewS3Store returns an S3Store for s3://bucket/key.
func NewS3Store(client S3API, bucket, key string) *S3Store {
	return &S3Store{client: client, bucket: bucket, key: key, now: time.Now}
}

func (s *S3Store) Save(ctx context.Context, alerts []types.ScheduledAlert) error {
	data, err := encodeSnapshot(alerts, s.now())
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(s.key),
		Body:            bytes.NewReader(data),
		ContentLength:   aws.Int64(int64(len(data))),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("zstd"),
	})
	if err != nil {
		return fmt.Errorf("store: failed to put s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}

// Load returns an empty table when the object does not exist yet.
func (s *S3Store) Load(ctx context.Context) ([]types.ScheduledAlert, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: failed to get s3://%s/%s: %w", s.bucket, s.key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("store: failed to read s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return decodeSnapshot(data)
}
