package writer

import (
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// compressStream wraps out in a compression stream. Closing the stream writes
// its trailer but leaves out open.
func compressStream(out io.Writer, c CompressionType) (io.WriteCloser, error) {
	switch c {
	case CompressionGzip:
		return gzip.NewWriterLevel(out, gzip.DefaultCompression)
	case CompressionZstd:
		return zstd.NewWriter(out)
	case CompressionSnappy:
		return snappy.NewBufferedWriter(out), nil
	default:
		return nopWriteCloser{out}, nil
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
