package writer

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	lferrors "github.com/logflow/sessiongen/pkg/errors"
	"github.com/logflow/sessiongen/pkg/sessiongen"
)

// XLSXMaxDataRows is the number of data rows that fit on one worksheet
// below the header row.
const XLSXMaxDataRows = 1_048_575

// XLSXWriter streams records into an Excel workbook. A new sheet is opened
// whenever the current one is full; each sheet repeats the header.
// The workbook is serialized to out on Close.
type XLSXWriter struct {
	out   io.Writer
	file  *excelize.File
	sw    *excelize.StreamWriter
	sheet int

	sheetRows int
	maxRows   int
	rows      int64
	row       []interface{}
	closed    bool
}

// NewXLSXWriter creates a workbook writer.
func NewXLSXWriter(out io.Writer) (*XLSXWriter, error) {
	return newXLSXWriter(out, XLSXMaxDataRows)
}

func newXLSXWriter(out io.Writer, maxRows int) (*XLSXWriter, error) {
	w := &XLSXWriter{
		out:     out,
		file:    excelize.NewFile(),
		maxRows: maxRows,
		row:     make([]interface{}, 3),
	}
	if err := w.openSheet(); err != nil {
		w.file.Close()
		return nil, err
	}
	return w, nil
}

func sheetName(n int) string {
	return fmt.Sprintf("Sheet%d", n)
}

// openSheet flushes the current sheet and starts the next one.
func (w *XLSXWriter) openSheet() error {
	if w.sw != nil {
		if err := w.sw.Flush(); err != nil {
			return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to flush xlsx sheet")
		}
	}
	w.sheet++
	name := sheetName(w.sheet)
	if w.sheet > 1 {
		if _, err := w.file.NewSheet(name); err != nil {
			return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to add xlsx sheet").WithContext("sheet", name)
		}
	}
	sw, err := w.file.NewStreamWriter(name)
	if err != nil {
		return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to open xlsx stream").WithContext("sheet", name)
	}
	w.sw = sw
	w.sheetRows = 0

	header := make([]interface{}, len(sessiongen.Header))
	for i, h := range sessiongen.Header {
		header[i] = h
	}
	if err := w.sw.SetRow("A1", header); err != nil {
		return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to write xlsx header")
	}
	return nil
}

// Write implements sessiongen.Sink.
func (w *XLSXWriter) Write(rec sessiongen.Record) error {
	if w.closed {
		return lferrors.New(lferrors.CodeWriteFailed, "xlsx writer is closed")
	}
	if w.sheetRows >= w.maxRows {
		if err := w.openSheet(); err != nil {
			return err
		}
	}

	// Header occupies row 1.
	cell, err := excelize.CoordinatesToCellName(1, w.sheetRows+2)
	if err != nil {
		return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to address xlsx row")
	}
	w.row[0] = rec.SessionID
	w.row[1] = rec.Timestamp.Format(sessiongen.TimestampLayout)
	w.row[2] = rec.Description
	if err := w.sw.SetRow(cell, w.row); err != nil {
		return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to write xlsx row").
			WithContext("session", rec.SessionID)
	}
	w.sheetRows++
	w.rows++
	return nil
}

// Close flushes the last sheet and writes the workbook to out.
func (w *XLSXWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.file.Close()

	if err := w.sw.Flush(); err != nil {
		return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to flush xlsx sheet")
	}
	if err := w.file.Write(w.out); err != nil {
		return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to write xlsx workbook")
	}
	return nil
}

// RowsWritten returns the number of data rows written across all sheets.
func (w *XLSXWriter) RowsWritten() int64 {
	return w.rows
}

// Sheets returns the number of worksheets opened so far.
func (w *XLSXWriter) Sheets() int {
	return w.sheet
}
