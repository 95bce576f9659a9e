package storage

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const defaultS3Endpoint = "s3.amazonaws.com"

// S3Options configure the S3-compatible sink.
type S3Options struct {
	Endpoint  string // empty means AWS S3
	Region    string
	AccessKey string
	SecretKey string
	Insecure  bool
}

// S3Sink uploads files to an S3-compatible object store.
type S3Sink struct {
	client *minio.Client
}

var _ Sink = (*S3Sink)(nil)

// NewS3Sink builds the sink. Static credentials win when provided;
// otherwise the standard AWS environment and IAM chains apply.
func NewS3Sink(opts S3Options) (*S3Sink, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = defaultS3Endpoint
	}

	var creds *credentials.Credentials
	if opts.AccessKey != "" && opts.SecretKey != "" {
		creds = credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: !opts.Insecure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3Sink{client: client}, nil
}

// PutFile uploads one local file under the given bucket and key.
func (s *S3Sink) PutFile(ctx context.Context, localPath, bucket, key string) error {
	_, err := s.client.FPutObject(ctx, bucket, key, localPath, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}
