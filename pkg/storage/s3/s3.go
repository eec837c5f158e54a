// Package s3 streams datasets to and from S3 and S3-compatible stores.
package s3

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	lferrors "github.com/logflow/sessiongen/pkg/errors"
)

// Scheme is the URI scheme handled by this package.
const Scheme = "s3://"

// MinPartSize is the smallest part S3 accepts for all but the last part.
const MinPartSize = 5 * 1024 * 1024

// Config holds S3 client configuration.
type Config struct {
	// Region is the AWS region (e.g., "us-east-1")
	Region string

	// Endpoint overrides the default S3 endpoint (for MinIO, LocalStack)
	Endpoint string

	// UsePathStyle forces path-style addressing
	UsePathStyle bool

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	UploadTimeout   time.Duration
	DownloadTimeout time.Duration

	// PartSize is the multipart chunk size in bytes.
	PartSize int64
}

// DefaultConfig returns sensible defaults for S3 configuration.
func DefaultConfig(region string) Config {
	return Config{
		Region:          region,
		UploadTimeout:   5 * time.Minute,
		DownloadTimeout: 5 * time.Minute,
		PartSize:        8 * 1024 * 1024,
	}
}

// IsURI reports whether path names an S3 object.
func IsURI(path string) bool {
	return strings.HasPrefix(path, Scheme)
}

// ParseURI splits s3://bucket/key into its bucket and key.
func ParseURI(uri string) (bucket, key string, err error) {
	if !IsURI(uri) {
		return "", "", lferrors.New(lferrors.CodeInvalidFormat, "not an s3 uri").WithContext("uri", uri)
	}
	rest := strings.TrimPrefix(uri, Scheme)
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", lferrors.New(lferrors.CodeInvalidFormat, "s3 uri must name a bucket and an object key").WithContext("uri", uri)
	}
	return bucket, key, nil
}

// Client provides S3 operations.
type Client struct {
	cfg    Config
	client *s3.Client
}

// NewClient creates a new S3 client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.PartSize < MinPartSize {
		cfg.PartSize = MinPartSize
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeUploadFailed, "failed to load AWS config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Client{cfg: cfg, client: client}, nil
}

// Reader returns a reader for the object at uri.
func (c *Client) Reader(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DownloadTimeout)

	output, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		cancel()
		return nil, lferrors.Wrap(err, lferrors.CodeFileNotFound, "failed to get object").WithContext("uri", uri)
	}

	return &cancelOnCloseReader{ReadCloser: output.Body, cancel: cancel}, nil
}

type cancelOnCloseReader struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelOnCloseReader) Close() error {
	r.cancel()
	return r.ReadCloser.Close()
}

// Writer returns a streaming writer for the object at uri. Nothing is
// visible under the key until Commit succeeds.
func (c *Client) Writer(uri, contentType string) (*Writer, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	return &Writer{
		client:      c.client,
		bucket:      bucket,
		key:         key,
		contentType: contentType,
		cfg:         c.cfg,
		buf:         make([]byte, 0, c.cfg.PartSize),
	}, nil
}

// Writer buffers data and uploads it in parts. Small objects are sent
// with a single PUT on Commit.
type Writer struct {
	client      *s3.Client
	bucket      string
	key         string
	contentType string
	cfg         Config

	mu       sync.Mutex
	buf      []byte
	parts    []types.CompletedPart
	uploadID string
	partNum  int32
	written  int64
	closed   bool
	err      error
}

func (w *Writer) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, lferrors.New(lferrors.CodeUploadFailed, "writer is closed")
	}
	if w.err != nil {
		return 0, w.err
	}

	w.buf = append(w.buf, p...)
	w.written += int64(len(p))

	for int64(len(w.buf)) >= w.cfg.PartSize {
		if err := w.uploadPartLocked(w.buf[:w.cfg.PartSize]); err != nil {
			w.err = err
			return len(p), err
		}
		w.buf = w.buf[w.cfg.PartSize:]
	}

	return len(p), nil
}

func (w *Writer) uploadPartLocked(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.UploadTimeout)
	defer cancel()

	if w.uploadID == "" {
		output, err := w.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket:      aws.String(w.bucket),
			Key:         aws.String(w.key),
			ContentType: aws.String(w.contentType),
		})
		if err != nil {
			return lferrors.Wrap(err, lferrors.CodeUploadFailed, "failed to create multipart upload").
				WithContext("key", w.key)
		}
		w.uploadID = aws.ToString(output.UploadId)
	}

	w.partNum++
	output, err := w.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(w.bucket),
		Key:        aws.String(w.key),
		UploadId:   aws.String(w.uploadID),
		PartNumber: aws.Int32(w.partNum),
		Body:       &bytesReader{data: data},
	})
	if err != nil {
		return lferrors.Wrap(err, lferrors.CodeUploadFailed, fmt.Sprintf("failed to upload part %d", w.partNum)).
			WithContext("key", w.key)
	}

	w.parts = append(w.parts, types.CompletedPart{
		ETag:       output.ETag,
		PartNumber: aws.Int32(w.partNum),
	})
	return nil
}

// Commit uploads the remaining buffer and completes the object.
func (w *Writer) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.err != nil {
		w.abortLocked()
		return w.err
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.UploadTimeout)
	defer cancel()

	if w.uploadID == "" {
		_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(w.bucket),
			Key:         aws.String(w.key),
			Body:        &bytesReader{data: w.buf},
			ContentType: aws.String(w.contentType),
		})
		if err != nil {
			return lferrors.Wrap(err, lferrors.CodeUploadFailed, "failed to put object").WithContext("key", w.key)
		}
		return nil
	}

	if len(w.buf) > 0 {
		if err := w.uploadPartLocked(w.buf); err != nil {
			w.abortLocked()
			return err
		}
		w.buf = w.buf[:0]
	}

	_, err := w.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(w.bucket),
		Key:      aws.String(w.key),
		UploadId: aws.String(w.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: w.parts,
		},
	})
	if err != nil {
		w.abortLocked()
		return lferrors.Wrap(err, lferrors.CodeUploadFailed, "failed to complete multipart upload").WithContext("key", w.key)
	}
	return nil
}

// Abort discards the upload. Uploaded parts are released.
func (w *Writer) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.abortLocked()
}

func (w *Writer) abortLocked() error {
	w.buf = nil
	if w.uploadID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.UploadTimeout)
	defer cancel()

	_, err := w.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(w.bucket),
		Key:      aws.String(w.key),
		UploadId: aws.String(w.uploadID),
	})
	if err != nil {
		return lferrors.Wrap(err, lferrors.CodeUploadFailed, "failed to abort multipart upload").WithContext("key", w.key)
	}
	return nil
}

// Written returns the number of bytes accepted so far.
func (w *Writer) Written() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// bytesReader implements io.Reader for a byte slice.
type bytesReader struct {
	data []byte
	pos  int
}

func (r *bytesReader) Read(p []byte) (n int, err error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n = copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
