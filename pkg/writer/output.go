package writer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"path/filepath"

	lferrors "github.com/logflow/sessiongen/pkg/errors"
	"github.com/logflow/sessiongen/pkg/storage/s3"
)

// OutputOptions controls how a destination is opened.
type OutputOptions struct {
	// Atomic writes local output to a temp file in the target directory
	// and renames it into place on Commit.
	Atomic bool

	// S3 configures the client used for s3:// destinations.
	S3 s3.Config

	// ContentType is attached to uploaded objects.
	ContentType string
}

// Output is a dataset destination. Bytes written are hashed as they pass
// through. Exactly one of Commit or Abort must be called.
type Output struct {
	path string

	file   *os.File
	tmp    string
	remote *s3.Writer

	hash  hash.Hash
	bytes int64
	done  bool
}

// OpenOutput opens path for writing. Local paths are truncated in place
// unless opts.Atomic is set. A missing parent directory is reported as
// E101 and is never created.
func OpenOutput(ctx context.Context, path string, opts OutputOptions) (*Output, error) {
	o := &Output{path: path, hash: sha256.New()}

	if s3.IsURI(path) {
		client, err := s3.NewClient(ctx, opts.S3)
		if err != nil {
			return nil, err
		}
		remote, err := client.Writer(path, opts.ContentType)
		if err != nil {
			return nil, err
		}
		o.remote = remote
		return o, nil
	}

	if opts.Atomic {
		dir, base := filepath.Split(path)
		if dir == "" {
			dir = "."
		}
		f, err := os.CreateTemp(dir, "."+base+".tmp-*")
		if err != nil {
			return nil, lferrors.FromFS(err, "create temp file", path)
		}
		o.file = f
		o.tmp = f.Name()
		return o, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, lferrors.FromFS(err, "create", path)
	}
	o.file = f
	return o, nil
}

// Write implements io.Writer.
func (o *Output) Write(p []byte) (int, error) {
	var (
		n   int
		err error
	)
	if o.remote != nil {
		n, err = o.remote.Write(p)
	} else {
		n, err = o.file.Write(p)
		if err != nil {
			err = lferrors.FromFS(err, "write", o.path)
		}
	}
	o.hash.Write(p[:n])
	o.bytes += int64(n)
	return n, err
}

// Commit makes the output durable and visible under its path.
func (o *Output) Commit() error {
	if o.done {
		return nil
	}
	o.done = true

	if o.remote != nil {
		return o.remote.Commit()
	}

	if err := o.file.Sync(); err != nil {
		o.file.Close()
		o.removeTemp()
		return lferrors.FromFS(err, "sync", o.path)
	}
	if err := o.file.Close(); err != nil {
		o.removeTemp()
		return lferrors.FromFS(err, "close", o.path)
	}
	if o.tmp != "" {
		if err := os.Chmod(o.tmp, 0o644); err != nil {
			o.removeTemp()
			return lferrors.FromFS(err, "chmod", o.tmp)
		}
		if err := os.Rename(o.tmp, o.path); err != nil {
			o.removeTemp()
			return lferrors.FromFS(err, "rename", o.path)
		}
	}
	return nil
}

// Abort releases the destination after a failed run. In truncate mode the
// partial file stays on disk; atomic and S3 outputs leave no trace.
func (o *Output) Abort() error {
	if o.done {
		return nil
	}
	o.done = true

	if o.remote != nil {
		return o.remote.Abort()
	}
	err := o.file.Close()
	o.removeTemp()
	if err != nil {
		return lferrors.FromFS(err, "close", o.path)
	}
	return nil
}

func (o *Output) removeTemp() {
	if o.tmp != "" {
		os.Remove(o.tmp)
	}
}

// Path returns the destination path or URI.
func (o *Output) Path() string {
	return o.path
}

// BytesWritten returns the number of encoded bytes written.
func (o *Output) BytesWritten() int64 {
	return o.bytes
}

// SHA256 returns the hex digest of the bytes written so far.
func (o *Output) SHA256() string {
	return hex.EncodeToString(o.hash.Sum(nil))
}

var _ io.Writer = (*Output)(nil)
