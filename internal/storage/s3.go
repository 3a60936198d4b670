package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"
	"voscribe/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// maxObjectBytes bounds a single chunk download. Uploads are capped well
// below this by the API, anything larger is a corrupt or foreign object.
const maxObjectBytes = 64 << 20

// S3Options configures the object store client. Endpoint is optional and
// points at an S3-compatible service such as MinIO.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Prefix    string
}

// S3Storage holds recorded chunk audio in an S3 bucket.
type S3Storage struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Storage(opts S3Options) (*S3Storage, error) {
	awsCfg, err := config.LoadDefaultConfig(
		context.TODO(),
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "audio"
	}

	logger.Info("S3 storage initialized",
		zap.String("bucket", opts.Bucket),
		zap.String("prefix", prefix))

	return &S3Storage{
		client: client,
		bucket: opts.Bucket,
		prefix: prefix,
	}, nil
}

// ChunkKey generates the object key for a recording chunk. Keys are laid
// out by capture date so retention jobs can sweep whole days.
func (s *S3Storage) ChunkKey(recordingID string, sequence int, chunkID string) string {
	date := time.Now().UTC().Format("2006/01/02")
	return path.Join(s.prefix, date, recordingID, fmt.Sprintf("%04d-%s.wav", sequence, chunkID))
}

// Put stores a chunk's audio under key.
func (s *S3Storage) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to store object %s: %w", key, err)
	}

	logger.Info("Chunk object stored", zap.String("key", key))

	return nil
}

// Fetch reads a chunk object into memory for transcription.
func (s *S3Storage) Fetch(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch object %s: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(io.LimitReader(result.Body, maxObjectBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	if len(data) > maxObjectBytes {
		return nil, fmt.Errorf("object %s exceeds %d bytes", key, maxObjectBytes)
	}

	logger.Debug("Chunk object fetched",
		zap.String("key", key),
		zap.Int("size", len(data)))

	return data, nil
}

// Delete removes an object, used to roll back failed chunk intakes.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}

	logger.Debug("Chunk object deleted", zap.String("key", key))

	return nil
}
