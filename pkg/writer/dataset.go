package writer

import (
	"context"

	"github.com/logflow/sessiongen/pkg/sessiongen"
)

// Result describes a written dataset.
type Result struct {
	Path   string
	Stats  sessiongen.Stats
	Rows   int64
	Bytes  int64
	SHA256 string
}

// ContentType returns the MIME type of the encoded stream.
func (c Config) ContentType() string {
	switch c.Compression {
	case CompressionGzip:
		if c.Format == FormatCSV {
			return "application/gzip"
		}
	case CompressionZstd:
		if c.Format == FormatCSV {
			return "application/zstd"
		}
	case CompressionSnappy:
		if c.Format == FormatCSV {
			return "application/x-snappy-framed"
		}
	}
	switch c.Format {
	case FormatParquet:
		return "application/vnd.apache.parquet"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv"
	}
}

// Generate runs g into the destination named by its config. On failure
// the output is aborted and the returned Result holds what was written
// before the error.
func Generate(ctx context.Context, g *sessiongen.Generator, opts OutputOptions) (Result, error) {
	cfg := g.Config()
	res := Result{Path: cfg.Output}

	wc, err := ConfigFor(cfg)
	if err != nil {
		return res, err
	}
	opts.Atomic = opts.Atomic || cfg.Atomic
	if opts.ContentType == "" {
		opts.ContentType = wc.ContentType()
	}

	out, err := OpenOutput(ctx, cfg.Output, opts)
	if err != nil {
		return res, err
	}

	rw, err := New(out, wc)
	if err != nil {
		out.Abort()
		return res, err
	}

	res.Stats, err = g.Generate(ctx, rw)
	if err == nil {
		err = rw.Close()
	} else {
		rw.Close()
	}
	res.Rows = rw.RowsWritten()

	if err != nil {
		out.Abort()
		res.Bytes = out.BytesWritten()
		return res, err
	}
	if err := out.Commit(); err != nil {
		return res, err
	}

	res.Bytes = out.BytesWritten()
	res.SHA256 = out.SHA256()
	return res, nil
}
