package writer

import (
	"fmt"
	"io"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	lferrors "github.com/logflow/sessiongen/pkg/errors"
	"github.com/logflow/sessiongen/pkg/sessiongen"
)

// ParquetWriter writes records to Parquet using Apache Arrow, one record
// batch per cfg.BatchSize rows.
type ParquetWriter struct {
	cfg    Config
	schema *arrow.Schema
	writer *pqarrow.FileWriter

	sessionIDBuilder   *array.StringBuilder
	timestampBuilder   *array.TimestampBuilder
	descriptionBuilder *array.StringBuilder

	pending          int
	totalRowsWritten int64
	closed           bool
}

// recordSchema returns the Arrow schema for session records.
func recordSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "session_id", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "timestamp", Type: arrow.FixedWidthTypes.Timestamp_s, Nullable: false},
		{Name: "description", Type: arrow.BinaryTypes.String, Nullable: false},
	}, nil)
}

func parquetCodec(c CompressionType) compress.Compression {
	switch c {
	case CompressionSnappy:
		return compress.Codecs.Snappy
	case CompressionGzip:
		return compress.Codecs.Gzip
	case CompressionZstd:
		return compress.Codecs.Zstd
	default:
		return compress.Codecs.Uncompressed
	}
}

// NewParquetWriter creates a new Parquet writer.
func NewParquetWriter(output io.Writer, cfg Config) (*ParquetWriter, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	allocator := memory.NewGoAllocator()
	schema := recordSchema()

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(parquetCodec(cfg.Compression)),
		parquet.WithDictionaryDefault(true),
		parquet.WithDataPageSize(1024*1024),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	fw, err := pqarrow.NewFileWriter(schema, output, writerProps, arrowProps)
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to create parquet writer")
	}

	pw := &ParquetWriter{
		cfg:                cfg,
		schema:             schema,
		writer:             fw,
		sessionIDBuilder:   array.NewStringBuilder(allocator),
		timestampBuilder:   array.NewTimestampBuilder(allocator, arrow.FixedWidthTypes.Timestamp_s.(*arrow.TimestampType)),
		descriptionBuilder: array.NewStringBuilder(allocator),
	}
	pw.sessionIDBuilder.Reserve(cfg.BatchSize)
	pw.timestampBuilder.Reserve(cfg.BatchSize)
	pw.descriptionBuilder.Reserve(cfg.BatchSize)

	return pw, nil
}

// Write implements sessiongen.Sink.
func (w *ParquetWriter) Write(rec sessiongen.Record) error {
	if w.closed {
		return lferrors.New(lferrors.CodeWriteFailed, "parquet writer is closed")
	}
	w.sessionIDBuilder.Append(rec.SessionID)
	w.timestampBuilder.Append(arrow.Timestamp(rec.Timestamp.Unix()))
	w.descriptionBuilder.Append(rec.Description)
	w.pending++

	if w.pending >= w.cfg.BatchSize {
		return w.flushBatch()
	}
	return nil
}

func (w *ParquetWriter) flushBatch() error {
	if w.pending == 0 {
		return nil
	}

	sessionIDs := w.sessionIDBuilder.NewArray()
	timestamps := w.timestampBuilder.NewArray()
	descriptions := w.descriptionBuilder.NewArray()
	defer sessionIDs.Release()
	defer timestamps.Release()
	defer descriptions.Release()

	batch := array.NewRecord(w.schema, []arrow.Array{sessionIDs, timestamps, descriptions}, int64(w.pending))
	defer batch.Release()

	if err := w.writer.Write(batch); err != nil {
		return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to write record batch")
	}

	w.totalRowsWritten += int64(w.pending)
	w.pending = 0
	return nil
}

// Close flushes the last batch and writes the Parquet footer.
func (w *ParquetWriter) Close() error {
	if w.closed {
		return nil
	}
	if err := w.flushBatch(); err != nil {
		return err
	}
	w.closed = true

	defer w.sessionIDBuilder.Release()
	defer w.timestampBuilder.Release()
	defer w.descriptionBuilder.Release()

	if err := w.writer.Close(); err != nil {
		return lferrors.Wrap(err, lferrors.CodeWriteFailed, fmt.Sprintf("failed to close parquet writer after %d rows", w.totalRowsWritten))
	}
	return nil
}

// RowsWritten returns the number of rows flushed to the file.
func (w *ParquetWriter) RowsWritten() int64 {
	return w.totalRowsWritten + int64(w.pending)
}
