// Package publish uploads produced archives to an S3-compatible bucket
// (AWS S3, Cloudflare R2, MinIO).
package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"buildnative/internal/config"
	"buildnative/internal/digest"
)

// ErrNotConfigured is returned by New when bucket or credentials are unset.
var ErrNotConfigured = errors.New("S3 publishing not configured (S3_BUCKET, S3_ACCESS_KEY_ID, S3_SECRET_ACCESS_KEY)")

// DigestMetadataKey names the object metadata entry carrying the BLAKE3
// digest of an uploaded file.
const DigestMetadataKey = "blake3"

// ObjectAPI is the subset of *s3.Client the publisher uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// Client publishes into one bucket under an optional key prefix.
type Client struct {
	api    ObjectAPI
	bucket string
	prefix string
}

// New builds a client from the S3 settings. A custom endpoint switches the
// client to path-style addressing, which R2 and MinIO require.
func New(ctx context.Context, s config.S3Settings, debug bool) (*Client, error) {
	if s.Bucket == "" || s.AccessKey == "" || s.SecretKey == "" {
		return nil, ErrNotConfigured
	}

	options := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(s.AccessKey, s.SecretKey, "")),
		awsconfig.WithRegion(s.Region),
	}
	if debug {
		options = append(options, awsconfig.WithClientLogMode(aws.LogSigning|aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithAPI(api, s.Bucket, s.Prefix), nil
}

// NewWithAPI wraps an existing object API.
func NewWithAPI(api ObjectAPI, bucket, prefix string) *Client {
	return &Client{api: api, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Key maps a caller key into the configured prefix.
func (c *Client) Key(key string) string {
	key = strings.TrimLeft(key, "/")
	switch {
	case c.prefix == "":
		return key
	case key == "":
		return c.prefix + "/"
	}
	return path.Join(c.prefix, key)
}

// ContentType picks the MIME type from the key suffix.
func ContentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".zst"):
		return "application/zstd"
	case strings.HasSuffix(key, ".gz"), strings.HasSuffix(key, ".tgz"):
		return "application/gzip"
	case strings.HasSuffix(key, ".xz"):
		return "application/x-xz"
	case strings.HasSuffix(key, ".bz2"):
		return "application/x-bzip2"
	case strings.HasSuffix(key, ".tar"):
		return "application/x-tar"
	case strings.HasSuffix(key, ".zip"):
		return "application/zip"
	}
	return "application/octet-stream"
}

// Upload stores body under key.
func (c *Client) Upload(ctx context.Context, key string, body []byte) error {
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(c.Key(key)),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(ContentType(key)),
		Metadata:      map[string]string{DigestMetadataKey: digest.Bytes(body).Hex()},
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// UploadFile streams a file from disk to key and returns its digest, which
// is also stored as object metadata.
func (c *Client) UploadFile(ctx context.Context, key, filePath string) (digest.Digest, error) {
	sum, err := digest.File(filePath)
	if err != nil {
		return digest.Digest{}, err
	}
	file, err := os.Open(filePath)
	if err != nil {
		return digest.Digest{}, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return digest.Digest{}, err
	}
	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(c.Key(key)),
		Body:          file,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String(ContentType(key)),
		Metadata:      map[string]string{DigestMetadataKey: sum.Hex()},
	})
	if err != nil {
		return digest.Digest{}, fmt.Errorf("upload %s: %w", filePath, err)
	}
	return sum, nil
}

// Download fetches key.
func (c *Client) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.Key(key)),
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Delete removes key.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.Key(key)),
	})
	return err
}

// Object is the listing metadata of one stored object.
type Object struct {
	Key  string
	Size int64
}

// List returns every object below prefix. Keys are returned as stored,
// including the client prefix.
func (c *Client) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	pages := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(c.Key(prefix)),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			objects = append(objects, Object{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			})
		}
	}
	return objects, nil
}
