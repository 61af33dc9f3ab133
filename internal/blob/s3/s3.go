// Package s3 provides an app.BlobStore on Amazon S3 or any S3-compatible
// object store. Objects are keyed <prefix><category>/<handle>; retrieval URLs
// are presigned GETs that live for the configured link TTL.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/haukened/vanish/internal/app"
	"github.com/haukened/vanish/internal/domain"
)

var (
	_ app.BlobStore  = (*Store)(nil)
	_ app.BlobLister = (*Store)(nil)
)

// DefaultLinkTTL is used when Config.LinkTTL is zero.
const DefaultLinkTTL = 10 * time.Minute

// Config describes how to reach the bucket.
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional, for S3-compatible stores
	Prefix    string
	AccessKey string // optional; the default credential chain is used when empty
	SecretKey string
	PathStyle bool
	LinkTTL   time.Duration
}

// Store implements app.BlobStore on an S3 client.
type Store struct {
	client   *s3.Client
	presign  *s3.PresignClient
	uploader *manager.Uploader
	bucket   string
	prefix   string
	linkTTL  time.Duration
}

// New loads AWS configuration and builds a Store for cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// Most S3-compatible stores reject the SDK's default trailing checksums.
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return NewWithClient(client, cfg), nil
}

// NewWithClient builds a Store on an existing client. Only the bucket,
// prefix and link TTL of cfg are used.
func NewWithClient(client *s3.Client, cfg Config) *Store {
	ttl := cfg.LinkTTL
	if ttl <= 0 {
		ttl = DefaultLinkTTL
	}
	return &Store{
		client:   client,
		presign:  s3.NewPresignClient(client),
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		linkTTL:  ttl,
	}
}

func (s *Store) key(ref domain.BlobRef) string {
	return s.prefix + string(domain.ParseCategory(string(ref.Category))) + "/" + ref.Handle
}

// Put uploads exactly size bytes from r under a fresh handle.
func (s *Store) Put(ctx context.Context, r io.Reader, size int64, meta app.BlobMeta) (app.StoredBlob, error) {
	id, err := domain.NewID()
	if err != nil {
		return app.StoredBlob{}, err
	}
	ref := domain.BlobRef{Handle: id.String(), Category: domain.ParseCategory(string(meta.Category))}
	body := &countingReader{r: io.LimitReader(r, size)}
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
		Body:   body,
	}
	if meta.MIMEType != "" {
		in.ContentType = aws.String(meta.MIMEType)
	}
	if _, err := s.uploader.Upload(ctx, in); err != nil {
		return app.StoredBlob{}, fmt.Errorf("s3: upload: %w", err)
	}
	if body.n != size {
		_ = s.Delete(context.WithoutCancel(ctx), ref)
		return app.StoredBlob{}, fmt.Errorf("s3: short body: got %d of %d bytes: %w", body.n, size, io.ErrUnexpectedEOF)
	}
	u, err := s.URL(ctx, ref, app.URLOptions{FileName: meta.FileName})
	if err != nil {
		return app.StoredBlob{}, err
	}
	return app.StoredBlob{Ref: ref, URL: u}, nil
}

// URL presigns a GET for ref.
func (s *Store) URL(ctx context.Context, ref domain.BlobRef, opts app.URLOptions) (string, error) {
	if !domain.IsHexID(ref.Handle) {
		return "", fmt.Errorf("s3: invalid blob handle")
	}
	in := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	}
	disposition := "inline"
	if opts.Attachment {
		disposition = "attachment"
	}
	if opts.Attachment || opts.FileName != "" {
		params := map[string]string{}
		if opts.FileName != "" {
			params["filename"] = opts.FileName
		}
		if v := mime.FormatMediaType(disposition, params); v != "" {
			in.ResponseContentDisposition = aws.String(v)
		}
	}
	req, err := s.presign.PresignGetObject(ctx, in, s3.WithPresignExpires(s.linkTTL))
	if err != nil {
		return "", fmt.Errorf("s3: presign: %w", err)
	}
	return req.URL, nil
}

// Open streams the object body.
func (s *Store) Open(ctx context.Context, ref domain.BlobRef) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3: %s: %w", ref.Handle, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3: get: %w", err)
	}
	return out.Body, nil
}

// Delete removes the object. S3 reports success for absent keys.
func (s *Store) Delete(ctx context.Context, ref domain.BlobRef) error {
	if ref.Handle == "" {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("s3: delete: %w", err)
	}
	return nil
}

// isNotFound reports whether err is a missing-key response. Some
// S3-compatible stores answer with a generic API error instead of NoSuchKey.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// List pages through every object under the prefix.
func (s *Store) List(ctx context.Context) ([]app.BlobEntry, error) {
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	var out []app.BlobEntry
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3: list: %w", err)
		}
		for _, obj := range page.Contents {
			cat, handle, ok := strings.Cut(strings.TrimPrefix(aws.ToString(obj.Key), s.prefix), "/")
			if !ok || !domain.IsHexID(handle) {
				continue
			}
			out = append(out, app.BlobEntry{
				Handle:   handle,
				Category: domain.ParseCategory(cat),
				ModTime:  aws.ToTime(obj.LastModified),
			})
		}
	}
	return out, nil
}

// Ping checks that the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
