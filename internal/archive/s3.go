package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"portaria/internal/config"
)

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads objects with PutObject, retrying with capped backoff. Each
// attempt has its own timeout.
type S3Sink struct {
	client     putObjectAPI
	bucket     string
	retries    int
	timeout    time.Duration
	maxBackoff time.Duration
	backoff    time.Duration
}

func NewS3Sink(ctx context.Context, cfg config.ArchiveConfig) (*S3Sink, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 0
	})
	return newS3Sink(client, cfg), nil
}

func newS3Sink(client putObjectAPI, cfg config.ArchiveConfig) *S3Sink {
	retries := cfg.S3.Retries
	if retries <= 0 {
		retries = 3
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &S3Sink{
		client:     client,
		bucket:     cfg.S3.Bucket,
		retries:    retries,
		timeout:    timeout,
		backoff:    200 * time.Millisecond,
		maxBackoff: 2 * time.Second,
	}
}

func (s *S3Sink) Put(ctx context.Context, key string, body []byte, contentType string) error {
	var lastErr error
	backoff := s.backoff
	for attempt := 1; attempt <= s.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.putObject(ctx, key, body, contentType); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt == s.retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > s.maxBackoff {
				backoff = s.maxBackoff
			}
		}
	}
	return fmt.Errorf("s3 put %s after %d attempts: %w", key, s.retries, lastErr)
}

func (s *S3Sink) putObject(ctx context.Context, key string, body []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	_, err := s.client.PutObject(ctx, in)
	return err
}
