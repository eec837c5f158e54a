// Package util provides utility functions for file operations.
package util

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	lferrors "github.com/logflow/sessiongen/pkg/errors"
	"github.com/logflow/sessiongen/pkg/storage/s3"
)

// compressionExts maps file suffixes to the codec that produced them.
var compressionExts = map[string]string{
	".gz":  "gzip",
	".zst": "zstd",
	".sz":  "snappy",
}

// OpenFile opens a local file, decompressing it based on its extension.
// Returns the reader, a cleanup function (to close resources), and any error.
// The caller must call the cleanup function when done reading.
func OpenFile(path string) (io.Reader, func() error, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, lferrors.FromFS(err, "open", path)
	}
	return decompress(file, path)
}

// OpenInput opens a local path or s3:// URI for reading, decompressing
// it based on its extension.
func OpenInput(ctx context.Context, path string, cfg s3.Config) (io.Reader, func() error, error) {
	if !s3.IsURI(path) {
		return OpenFile(path)
	}
	client, err := s3.NewClient(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	body, err := client.Reader(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return decompress(body, path)
}

func decompress(rc io.ReadCloser, path string) (io.Reader, func() error, error) {
	switch Compression(path) {
	case "gzip":
		gzReader, err := gzip.NewReader(rc)
		if err != nil {
			rc.Close()
			return nil, nil, lferrors.Wrap(err, lferrors.CodeInvalidFormat, "invalid gzip stream").WithContext("path", path)
		}
		return gzReader, func() error {
			gzReader.Close()
			return rc.Close()
		}, nil
	case "zstd":
		zr, err := zstd.NewReader(rc)
		if err != nil {
			rc.Close()
			return nil, nil, lferrors.Wrap(err, lferrors.CodeInvalidFormat, "invalid zstd stream").WithContext("path", path)
		}
		return zr, func() error {
			zr.Close()
			return rc.Close()
		}, nil
	case "snappy":
		return snappy.NewReader(rc), rc.Close, nil
	default:
		return rc, rc.Close, nil
	}
}

// Compression returns the codec implied by the path's extension, or ""
// for uncompressed files.
func Compression(path string) string {
	return compressionExts[strings.ToLower(filepath.Ext(path))]
}

// StripCompression removes a compression extension from a path.
func StripCompression(path string) string {
	if Compression(path) == "" {
		return path
	}
	return path[:len(path)-len(filepath.Ext(path))]
}

// BaseFormat extracts the format extension after stripping compression.
// e.g., "file.csv.gz" -> ".csv", "file.parquet" -> ".parquet"
func BaseFormat(path string) string {
	stripped := StripCompression(path)
	return strings.ToLower(filepath.Ext(stripped))
}
