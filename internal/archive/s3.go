package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"curator/internal/config"
	"curator/internal/services"
)

// s3Client talks to an S3-compatible backend (AWS S3 or MinIO). Object ETags
// serve as revision markers.
type s3Client struct {
	client  *s3.Client
	bucket  string
	prefix  string
	timeout time.Duration
}

// NewS3 constructs an S3 archive client from configuration. Credentials come
// from archive.access_key/secret_key when set, else the default AWS chain.
func NewS3(ctx context.Context, cfg *config.Config) (Client, error) {
	if cfg.Archive.Bucket == "" {
		return nil, services.Wrap(services.ErrConfiguration, "archive", "open", "s3 driver requires archive.bucket", nil)
	}
	region := cfg.Archive.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.Archive.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.Archive.AccessKey, cfg.Archive.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, services.Wrap(services.ErrTransport, "archive", "open", "load aws config", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Archive.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Archive.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Archive.Endpoint)
		}
	})
	return &s3Client{
		client:  client,
		bucket:  cfg.Archive.Bucket,
		prefix:  strings.Trim(cfg.Archive.Prefix, "/"),
		timeout: cfg.ArchiveTimeout(),
	}, nil
}

func (c *s3Client) Driver() string { return DriverS3 }

func (c *s3Client) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *s3Client) key(path string) (string, error) {
	clean, err := sanitizePath(path)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "archive", "path", err.Error(), nil)
	}
	return joinKey(c.prefix, clean), nil
}

func (c *s3Client) Login(ctx context.Context) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil {
		return services.Wrap(services.ErrTransport, "archive", "login",
			fmt.Sprintf("bucket %s unreachable", c.bucket), err)
	}
	return nil
}

func (c *s3Client) Fetch(ctx context.Context, path string) ([]byte, string, error) {
	key, err := c.key(path)
	if err != nil {
		return nil, "", err
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(key)})
	if err != nil {
		if isS3NotFound(err) {
			return nil, "", services.Wrap(services.ErrNotFound, "archive", "fetch", path, nil)
		}
		return nil, "", services.Wrap(services.ErrTransport, "archive", "fetch", path, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", services.Wrap(services.ErrTransport, "archive", "fetch", path, err)
	}
	return data, trimETag(out.ETag), nil
}

func (c *s3Client) Put(ctx context.Context, path string, data []byte) (string, error) {
	key, err := c.key(path)
	if err != nil {
		return "", err
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	out, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", services.Wrap(services.ErrTransport, "archive", "put", path, err)
	}
	marker := trimETag(out.ETag)
	if marker == "" {
		entry, err := c.Stat(ctx, path)
		if err != nil {
			return "", err
		}
		marker = entry.Marker
	}
	return marker, nil
}

func (c *s3Client) Delete(ctx context.Context, path string) (bool, error) {
	key, err := c.key(path)
	if err != nil {
		return false, err
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	_, err = c.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(key)})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, services.Wrap(services.ErrTransport, "archive", "delete", path, err)
	}
	if _, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(key)}); err != nil {
		return false, services.Wrap(services.ErrTransport, "archive", "delete", path, err)
	}
	return true, nil
}

func (c *s3Client) Stat(ctx context.Context, path string) (Entry, error) {
	key, err := c.key(path)
	if err != nil {
		return Entry{}, err
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	out, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(key)})
	if err != nil {
		if isS3NotFound(err) {
			return Entry{}, services.Wrap(services.ErrNotFound, "archive", "stat", path, nil)
		}
		return Entry{}, services.Wrap(services.ErrTransport, "archive", "stat", path, err)
	}
	entry := Entry{Path: stripKeyPrefix(c.prefix, key), Marker: trimETag(out.ETag)}
	if out.ContentLength != nil {
		entry.Size = *out.ContentLength
	}
	if out.LastModified != nil {
		entry.ModifiedAt = out.LastModified.UTC()
	}
	return entry, nil
}

func (c *s3Client) List(ctx context.Context, prefix string) ([]Entry, error) {
	keyPrefix := joinKey(c.prefix, prefix)
	if prefix == "" {
		keyPrefix = c.prefix
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	var entries []Entry
	var token *string
	for {
		out, err := c.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(c.bucket),
			Prefix:            aws.String(keyPrefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, services.Wrap(services.ErrTransport, "archive", "list", prefix, err)
		}
		for _, obj := range out.Contents {
			entry := Entry{
				Path:       stripKeyPrefix(c.prefix, aws.ToString(obj.Key)),
				Marker:     trimETag(obj.ETag),
				ModifiedAt: aws.ToTime(obj.LastModified).UTC(),
			}
			if obj.Size != nil {
				entry.Size = *obj.Size
			}
			entries = append(entries, entry)
		}
		if out.IsTruncated != nil && *out.IsTruncated && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func isS3NotFound(err error) bool {
	var noKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}

func trimETag(etag *string) string {
	if etag == nil {
		return ""
	}
	return strings.Trim(*etag, "\"")
}
