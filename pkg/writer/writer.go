// Package writer provides dataset sinks: CSV, Parquet and XLSX encoders,
// stream compression and the destinations they write to.
package writer

import (
	"fmt"
	"io"
	"strings"

	lferrors "github.com/logflow/sessiongen/pkg/errors"
	"github.com/logflow/sessiongen/pkg/sessiongen"
)

// RecordWriter encodes session records. Close flushes buffered rows and
// trailers but does not close the underlying io.Writer.
type RecordWriter interface {
	sessiongen.Sink

	// Close flushes and finalizes the encoding.
	Close() error

	// RowsWritten returns the number of data rows written.
	RowsWritten() int64
}

// Format is the output encoding.
type Format uint8

const (
	FormatCSV Format = iota
	FormatParquet
	FormatXLSX
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatParquet:
		return "parquet"
	case FormatXLSX:
		return "xlsx"
	default:
		return "csv"
	}
}

// ParseFormat parses a format name. The empty string means CSV.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "csv":
		return FormatCSV, nil
	case "parquet":
		return FormatParquet, nil
	case "xlsx":
		return FormatXLSX, nil
	default:
		return FormatCSV, lferrors.New(lferrors.CodeInvalidFormat, "unknown output format").WithContext("format", s)
	}
}

// CompressionType represents compression options.
type CompressionType uint8

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionGzip
	CompressionZstd
)

// String returns the compression type name.
func (c CompressionType) String() string {
	switch c {
	case CompressionSnappy:
		return "snappy"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

// Extension is the file suffix conventionally used for stream compression.
func (c CompressionType) Extension() string {
	switch c {
	case CompressionSnappy:
		return ".sz"
	case CompressionGzip:
		return ".gz"
	case CompressionZstd:
		return ".zst"
	default:
		return ""
	}
}

// ParseCompression parses a compression type string.
func ParseCompression(s string) (CompressionType, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressionNone, nil
	case "snappy":
		return CompressionSnappy, nil
	case "gzip":
		return CompressionGzip, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return CompressionNone, lferrors.New(lferrors.CodeInvalidFormat, "unknown compression").WithContext("compression", s)
	}
}

// Config holds writer configuration.
type Config struct {
	Format Format

	// Compression is applied as a stream wrapper for CSV and as the
	// column codec for Parquet. XLSX does not support it.
	Compression CompressionType

	// BatchSize is the number of rows per Parquet record batch.
	BatchSize int
}

// DefaultConfig returns a CSV config with Parquet-friendly batch size.
func DefaultConfig() Config {
	return Config{
		Format:    FormatCSV,
		BatchSize: 8192,
	}
}

// ConfigFor builds a writer Config from a generation config.
func ConfigFor(cfg sessiongen.Config) (Config, error) {
	wc := DefaultConfig()
	var err error
	if wc.Format, err = ParseFormat(cfg.Format); err != nil {
		return wc, err
	}
	if wc.Compression, err = ParseCompression(cfg.Compression); err != nil {
		return wc, err
	}
	if wc.Format == FormatXLSX && wc.Compression != CompressionNone {
		return wc, lferrors.New(lferrors.CodeInvalidFormat, "xlsx output does not support compression").
			WithContext("compression", wc.Compression.String())
	}
	return wc, nil
}

// New creates the record writer for cfg on top of out. For CSV with
// compression the returned writer owns the compression stream and closes
// it on Close.
func New(out io.Writer, cfg Config) (RecordWriter, error) {
	switch cfg.Format {
	case FormatCSV:
		if cfg.Compression == CompressionNone {
			return NewCSVWriter(out)
		}
		cw, err := compressStream(out, cfg.Compression)
		if err != nil {
			return nil, err
		}
		w, err := NewCSVWriter(cw)
		if err != nil {
			cw.Close()
			return nil, err
		}
		w.closer = cw
		return w, nil
	case FormatParquet:
		return NewParquetWriter(out, cfg)
	case FormatXLSX:
		return NewXLSXWriter(out)
	default:
		return nil, fmt.Errorf("unsupported format: %d", cfg.Format)
	}
}
