package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectPutter is the part of the S3 client used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader copies finished WAV files to an s3://bucket/prefix location.
type S3Uploader struct {
	client      ObjectPutter
	bucket      string
	prefix      string
	deleteLocal bool
}

// ParseS3URI splits s3://bucket/prefix. The prefix is empty or ends in "/".
func ParseS3URI(uri string) (bucket, prefix string, err error) {
	if !strings.HasPrefix(uri, "s3://") {
		return "", "", fmt.Errorf("invalid s3 uri %q", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "s3://"), "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("invalid s3 uri %q: missing bucket", uri)
	}
	bucket = parts[0]
	if len(parts) > 1 && parts[1] != "" {
		prefix = strings.TrimSuffix(parts[1], "/") + "/"
	}
	return bucket, prefix, nil
}

// NewS3Uploader loads the default AWS credential chain for region.
func NewS3Uploader(ctx context.Context, uri, region string, deleteLocal bool) (*S3Uploader, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3UploaderWithClient(s3.NewFromConfig(cfg), uri, deleteLocal)
}

func NewS3UploaderWithClient(client ObjectPutter, uri string, deleteLocal bool) (*S3Uploader, error) {
	bucket, prefix, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	return &S3Uploader{client: client, bucket: bucket, prefix: prefix, deleteLocal: deleteLocal}, nil
}

// Upload puts the file at path and returns its s3:// location.
// The local copy is removed after a successful upload if configured.
func (u *S3Uploader) Upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	key := u.prefix + filepath.Base(path)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("audio/wav"),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", u.bucket, key, err)
	}

	if u.deleteLocal {
		if err := os.Remove(path); err != nil {
			return "", fmt.Errorf("remove uploaded file: %w", err)
		}
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
}
