package writer

import (
	"bufio"
	"encoding/csv"
	"io"

	lferrors "github.com/logflow/sessiongen/pkg/errors"
	"github.com/logflow/sessiongen/pkg/sessiongen"
)

// CSVWriter writes the SessionID,Timestamp,Description layout with
// CRLF line endings.
type CSVWriter struct {
	buf    *bufio.Writer
	cw     *csv.Writer
	row    [3]string
	rows   int64
	closer io.Closer
}

// NewCSVWriter writes the header to out and returns the writer.
func NewCSVWriter(out io.Writer) (*CSVWriter, error) {
	buf := bufio.NewWriterSize(out, 64*1024)
	w := &CSVWriter{
		buf: buf,
		cw:  csv.NewWriter(buf),
	}
	w.cw.UseCRLF = true
	if err := w.cw.Write(sessiongen.Header); err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to write header")
	}
	return w, nil
}

// Write implements sessiongen.Sink.
func (w *CSVWriter) Write(rec sessiongen.Record) error {
	w.row[0] = rec.SessionID
	w.row[1] = rec.Timestamp.Format(sessiongen.TimestampLayout)
	w.row[2] = rec.Description
	if err := w.cw.Write(w.row[:]); err != nil {
		return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to write row").
			WithContext("session", rec.SessionID)
	}
	w.rows++
	return nil
}

// Close flushes buffered rows and closes the compression stream, if any.
func (w *CSVWriter) Close() error {
	w.cw.Flush()
	if err := w.cw.Error(); err != nil {
		return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to flush csv")
	}
	if err := w.buf.Flush(); err != nil {
		return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to flush csv")
	}
	if w.closer != nil {
		if err := w.closer.Close(); err != nil {
			return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to close compression stream")
		}
	}
	return nil
}

// RowsWritten returns the number of data rows written.
func (w *CSVWriter) RowsWritten() int64 {
	return w.rows
}
