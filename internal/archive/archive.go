// Package archive reads archived DAT files from an S3-compatible object
// store (R2 in production, MinIO locally).
//
// Archived threads live under {board_key}/dat/{thread_id}.dat. This package
// only reads them; nothing in this service writes them (the sweep only flags
// threads as archived in the database). A nil *Bucket means no archive is
// configured and callers fall back to 404.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("archive object not found")

// Config holds the bucket location. Endpoint is the S3-compatible API URL;
// empty means plain AWS S3.
type Config struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// Bucket wraps the S3 client for archive reads.
type Bucket struct {
	client *s3.S3
	bucket string
}

// NewBucket connects the archive bucket. An empty bucket name returns
// (nil, nil): archiving is simply not configured.
func NewBucket(config Config) (*Bucket, error) {
	if config.Bucket == "" {
		return nil, nil
	}
	region := config.Region
	if region == "" {
		region = "auto"
	}

	awsConfig := &aws.Config{
		Region:           aws.String(region),
		S3ForcePathStyle: aws.Bool(true),
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
	}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive session: %w", err)
	}
	return &Bucket{client: s3.New(sess), bucket: config.Bucket}, nil
}

// DatKey is the object key for an archived thread.
func DatKey(boardKey, threadID string) string {
	return fmt.Sprintf("%s/dat/%s.dat", boardKey, threadID)
}

// Get fetches an object's bytes. Returns ErrNotFound for a missing key.
func (b *Bucket) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound") {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get archive object %s: %w", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive object %s: %w", key, err)
	}
	return body, nil
}
