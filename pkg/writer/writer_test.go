package writer

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/xuri/excelize/v2"

	lferrors "github.com/logflow/sessiongen/pkg/errors"
	"github.com/logflow/sessiongen/pkg/sessiongen"
	"github.com/logflow/sessiongen/pkg/util"
)

func testConfig(output string) sessiongen.Config {
	return sessiongen.Config{
		Sessions:  40,
		MinEvents: 1,
		MaxEvents: 5,
		Interval:  5 * time.Minute,
		Year:      2023,
		Output:    output,
		IDScheme:  sessiongen.SchemeSequential,
		Seed:      11,
	}
}

func generate(t *testing.T, cfg sessiongen.Config) Result {
	t.Helper()
	g, _, err := sessiongen.NewSeeded(cfg)
	if err != nil {
		t.Fatalf("NewSeeded: %v", err)
	}
	res, err := Generate(context.Background(), g, OutputOptions{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return res
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	r, cleanup, err := util.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer cleanup()
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return rows
}

func record(session int64, label string) sessiongen.Record {
	return sessiongen.Record{
		Session:     session,
		SessionID:   sessiongen.SequentialIDs{}.SessionID(session),
		Timestamp:   time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC),
		Description: label,
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatCSV, false},
		{"csv", FormatCSV, false},
		{"Parquet", FormatParquet, false},
		{"xlsx", FormatXLSX, false},
		{"json", FormatCSV, true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			if !lferrors.IsCode(err, lferrors.CodeInvalidFormat) {
				t.Errorf("ParseFormat(%q): Expected E103, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseFormat(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in      string
		want    CompressionType
		ext     string
		wantErr bool
	}{
		{"", CompressionNone, "", false},
		{"none", CompressionNone, "", false},
		{"gzip", CompressionGzip, ".gz", false},
		{"ZSTD", CompressionZstd, ".zst", false},
		{"snappy", CompressionSnappy, ".sz", false},
		{"lz4", CompressionNone, "", true},
	}
	for _, tt := range tests {
		got, err := ParseCompression(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseCompression(%q): Expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseCompression(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
		if got.Extension() != tt.ext {
			t.Errorf("Extension(%v) = %q, want %q", got, got.Extension(), tt.ext)
		}
	}
}

func TestConfigFor_XLSXRejectsCompression(t *testing.T) {
	cfg := testConfig("out.xlsx")
	cfg.Format = "xlsx"
	cfg.Compression = "gzip"
	if _, err := ConfigFor(cfg); !lferrors.IsCode(err, lferrors.CodeInvalidFormat) {
		t.Fatalf("Expected E103, got %v", err)
	}
}

func TestGenerate_CSV(t *testing.T) {
	dir := t.TempDir()
	for _, compression := range []string{"none", "gzip", "zstd", "snappy"} {
		t.Run(compression, func(t *testing.T) {
			c, _ := ParseCompression(compression)
			path := filepath.Join(dir, "dataset.csv"+c.Extension())
			cfg := testConfig(path)
			cfg.Compression = compression

			res := generate(t, cfg)
			rows := readCSV(t, path)

			if strings.Join(rows[0], ",") != "SessionID,Timestamp,Description" {
				t.Fatalf("Expected header, got %v", rows[0])
			}
			if int64(len(rows)-1) != res.Rows || res.Rows != res.Stats.Rows {
				t.Fatalf("Expected %d data rows, got %d (stats %d)", res.Rows, len(rows)-1, res.Stats.Rows)
			}
			if rows[len(rows)-1][0] != "40" {
				t.Errorf("Expected last session 40, got %s", rows[len(rows)-1][0])
			}
			if len(res.SHA256) != 64 || res.Bytes == 0 {
				t.Errorf("Expected digest and byte count, got %q/%d", res.SHA256, res.Bytes)
			}
		})
	}
}

func TestGenerate_SeededOutputsIdentical(t *testing.T) {
	dir := t.TempDir()
	first := generate(t, testConfig(filepath.Join(dir, "a.csv")))
	second := generate(t, testConfig(filepath.Join(dir, "b.csv")))
	if first.SHA256 != second.SHA256 {
		t.Fatal("Expected identical files for the same seed")
	}
	a, _ := os.ReadFile(filepath.Join(dir, "a.csv"))
	b, _ := os.ReadFile(filepath.Join(dir, "b.csv"))
	if !bytes.Equal(a, b) {
		t.Fatal("Expected byte-identical files")
	}
}

func TestGenerate_TruncatesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.csv")
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), 1<<20), 0o644); err != nil {
		t.Fatal(err)
	}
	res := generate(t, testConfig(path))
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != res.Bytes {
		t.Errorf("Expected size %d, got %d", res.Bytes, info.Size())
	}
}

func TestOpenOutput_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datasets", "largest_dataset5.csv")
	for _, atomic := range []bool{false, true} {
		_, err := OpenOutput(context.Background(), path, OutputOptions{Atomic: atomic})
		if !lferrors.IsCode(err, lferrors.CodeFileNotFound) {
			t.Errorf("atomic=%v: Expected E101, got %v", atomic, err)
		}
	}
	if _, err := os.Stat(filepath.Dir(path)); !os.IsNotExist(err) {
		t.Error("Expected parent directory not to be created")
	}
}

func TestOpenOutput_Atomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dataset.csv")

	t.Run("commit", func(t *testing.T) {
		out, err := OpenOutput(context.Background(), path, OutputOptions{Atomic: true})
		if err != nil {
			t.Fatalf("OpenOutput: %v", err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatal("Expected target to be absent before commit")
		}
		out.Write([]byte("SessionID,Timestamp,Description\n"))
		if err := out.Commit(); err != nil {
			t.Fatalf("Commit: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil || string(data) != "SessionID,Timestamp,Description\n" {
			t.Fatalf("Expected committed content, got %q (%v)", data, err)
		}
	})

	t.Run("abort", func(t *testing.T) {
		out, err := OpenOutput(context.Background(), path, OutputOptions{Atomic: true})
		if err != nil {
			t.Fatalf("OpenOutput: %v", err)
		}
		out.Write([]byte("partial"))
		if err := out.Abort(); err != nil {
			t.Fatalf("Abort: %v", err)
		}
		data, _ := os.ReadFile(path)
		if string(data) != "SessionID,Timestamp,Description\n" {
			t.Errorf("Expected previous content to survive, got %q", data)
		}
	})

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected only the target file, got %d entries", len(entries))
	}
}

func TestGenerate_CanceledAtomicLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(filepath.Join(dir, "dataset.csv"))
	cfg.Sessions = 10_000
	cfg.Atomic = true

	g, _, err := sessiongen.NewSeeded(cfg)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Generate(ctx, g, OutputOptions{}); !lferrors.IsCode(err, lferrors.CodeContextCanceled) {
		t.Fatalf("Expected E401, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("Expected empty directory, got %d entries", len(entries))
	}
}

func TestParquetWriter(t *testing.T) {
	var buf bytes.Buffer
	pw, err := NewParquetWriter(&buf, Config{Format: FormatParquet, Compression: CompressionZstd, BatchSize: 4})
	if err != nil {
		t.Fatalf("NewParquetWriter: %v", err)
	}
	for i := int64(1); i <= 10; i++ {
		if err := pw.Write(record(i, "Login")); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := pw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if pw.RowsWritten() != 10 {
		t.Errorf("Expected 10 rows written, got %d", pw.RowsWritten())
	}

	rdr, err := file.NewParquetReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("NewParquetReader: %v", err)
	}
	defer rdr.Close()
	if rdr.NumRows() != 10 {
		t.Errorf("Expected 10 rows, got %d", rdr.NumRows())
	}
	if n := rdr.MetaData().Schema.NumColumns(); n != 3 {
		t.Errorf("Expected 3 columns, got %d", n)
	}
}

func TestXLSXWriter_RollsSheets(t *testing.T) {
	var buf bytes.Buffer
	xw, err := newXLSXWriter(&buf, 3)
	if err != nil {
		t.Fatalf("newXLSXWriter: %v", err)
	}
	for i := int64(1); i <= 7; i++ {
		if err := xw.Write(record(i, "Checkout")); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := xw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if xw.Sheets() != 3 {
		t.Fatalf("Expected 3 sheets, got %d", xw.Sheets())
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	wantRows := []int{4, 4, 2}
	for i, want := range wantRows {
		rows, err := f.GetRows(sheetName(i + 1))
		if err != nil {
			t.Fatalf("GetRows: %v", err)
		}
		if len(rows) != want {
			t.Errorf("sheet %d: Expected %d rows, got %d", i+1, want, len(rows))
		}
		if strings.Join(rows[0], ",") != "SessionID,Timestamp,Description" {
			t.Errorf("sheet %d: Expected header, got %v", i+1, rows[0])
		}
	}
	rows, _ := f.GetRows("Sheet3")
	if rows[1][0] != "7" || rows[1][1] != "2023-06-01T12:00:00Z" {
		t.Errorf("Expected last record on sheet 3, got %v", rows[1])
	}
}

func TestCSVWriter_CRLF(t *testing.T) {
	var buf bytes.Buffer
	cw, err := NewCSVWriter(&buf)
	if err != nil {
		t.Fatalf("NewCSVWriter: %v", err)
	}
	if err := cw.Write(record(1, "Login")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := cw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want := "SessionID,Timestamp,Description\r\n1,2023-06-01T12:00:00Z,Login\r\n"
	if buf.String() != want {
		t.Errorf("Expected %q, got %q", want, buf.String())
	}
}

func TestCompressStream(t *testing.T) {
	for _, compression := range []string{"none", "gzip", "zstd", "snappy"} {
		t.Run(compression, func(t *testing.T) {
			c, _ := ParseCompression(compression)
			path := filepath.Join(t.TempDir(), "stream.csv"+c.Extension())
			f, err := os.Create(path)
			if err != nil {
				t.Fatal(err)
			}
			cw, err := compressStream(f, c)
			if err != nil {
				t.Fatalf("compressStream: %v", err)
			}
			if _, err := cw.Write([]byte("SessionID,Timestamp,Description\n")); err != nil {
				t.Fatalf("Write: %v", err)
			}
			if err := cw.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			if _, err := f.Write(nil); err != nil {
				t.Errorf("Expected underlying file to stay open, got %v", err)
			}
			f.Close()

			rows := readCSV(t, path)
			if len(rows) != 1 || strings.Join(rows[0], ",") != "SessionID,Timestamp,Description" {
				t.Errorf("Expected header round trip, got %v", rows)
			}
		})
	}
}
