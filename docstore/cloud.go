package docstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Cloud stores each document as two S3 objects, {doc_id}/raw and
// {doc_id}/text.txt, under an optional key prefix.
type Cloud struct {
	client *s3.Client
	bucket string
	prefix string
}

// CloudConfig configures the S3 (or S3-compatible, e.g. MinIO) connection.
type CloudConfig struct {
	Region       string
	Bucket       string
	Prefix       string
	AccessKey    string
	SecretKey    string
	Endpoint     string
	UsePathStyle bool
}

// NewCloud loads AWS configuration (static credentials if provided,
// otherwise the default credential chain) and constructs an S3 client.
func NewCloud(ctx context.Context, cfg CloudConfig) (*Cloud, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("docstore: s3 bucket is required")
	}

	awsOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("docstore: loading aws config: %w", err)
	}

	s3Opts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Cloud{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: strings.TrimSuffix(cfg.Prefix, "/"),
	}, nil
}

func (c *Cloud) Name() string { return "s3" }

func (c *Cloud) key(docID int64, name string) string {
	k := strconv.FormatInt(docID, 10) + "/" + name
	if c.prefix == "" {
		return k
	}
	return c.prefix + "/" + k
}

func (c *Cloud) PutRaw(ctx context.Context, docID int64, data []byte) error {
	return c.put(ctx, c.key(docID, "raw"), data)
}

func (c *Cloud) PutText(ctx context.Context, docID int64, text string) error {
	return c.put(ctx, c.key(docID, "text.txt"), []byte(text))
}

func (c *Cloud) put(ctx context.Context, key string, data []byte) error {
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("docstore: s3 put %s: %w", key, err)
	}
	return nil
}

func (c *Cloud) GetRaw(ctx context.Context, docID int64) ([]byte, error) {
	return c.get(ctx, c.key(docID, "raw"))
}

func (c *Cloud) GetText(ctx context.Context, docID int64) (string, error) {
	data, err := c.get(ctx, c.key(docID, "text.txt"))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *Cloud) get(ctx context.Context, key string) ([]byte, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("docstore: s3 get %s: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("docstore: reading s3 body %s: %w", key, err)
	}
	return data, nil
}

func (c *Cloud) Delete(ctx context.Context, docID int64) error {
	for _, name := range []string{"raw", "text.txt"} {
		key := c.key(docID, name)
		_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if err != nil && !isNotFoundError(err) {
			return fmt.Errorf("docstore: s3 delete %s: %w", key, err)
		}
	}
	return nil
}

func isNotFoundError(err error) bool {
	var notFound *s3types.NotFound
	var noSuchKey *s3types.NoSuchKey
	return errors.As(err, &notFound) ||
		errors.As(err, &noSuchKey) ||
		strings.Contains(err.Error(), "NotFound") ||
		strings.Contains(err.Error(), "NoSuchKey")
}

var _ Store = (*Cloud)(nil)
