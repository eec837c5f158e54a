package ledger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	lferrors "github.com/logflow/sessiongen/pkg/errors"
)

var runsBucket = []byte("runs")

// BoltBackend stores manifests in a local bbolt database.
type BoltBackend struct {
	db *bolt.DB
}

// NewBoltBackend opens (creating if needed) the database at path. The
// parent directory is created since it is the tool's own state directory.
func NewBoltBackend(path string) (*BoltBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, lferrors.FromFS(err, "create ledger directory", path)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeLedgerFailed, "failed to open bbolt database").WithContext("path", path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, lferrors.Wrap(err, lferrors.CodeLedgerFailed, "failed to create runs bucket")
	}
	return &BoltBackend{db: db}, nil
}

// Save persists a manifest.
func (b *BoltBackend) Save(ctx context.Context, m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return lferrors.Wrap(err, lferrors.CodeLedgerFailed, "failed to marshal manifest")
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(runsBucket).Put([]byte(m.ID), data)
	})
	if err != nil {
		return lferrors.Wrap(err, lferrors.CodeLedgerFailed, "failed to save manifest").WithContext("id", m.ID)
	}
	return nil
}

// Load retrieves a manifest by ID.
func (b *BoltBackend) Load(ctx context.Context, id string) (*Manifest, error) {
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(runsBucket).Get([]byte(id))
		if v != nil {
			// Copy the value since it's only valid during the transaction
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeLedgerFailed, "failed to load manifest").WithContext("id", id)
	}
	if data == nil {
		return nil, notFound(id)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeLedgerFailed, "failed to unmarshal manifest").WithContext("id", id)
	}
	return &m, nil
}

// List returns all manifests, newest first. Undecodable entries are skipped.
func (b *BoltBackend) List(ctx context.Context) ([]*Manifest, error) {
	var out []*Manifest
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(runsBucket).ForEach(func(_, v []byte) error {
			var m Manifest
			if err := json.Unmarshal(v, &m); err != nil {
				return nil
			}
			out = append(out, &m)
			return nil
		})
	})
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeLedgerFailed, "failed to list manifests")
	}
	sortNewestFirst(out)
	return out, nil
}

// Delete removes a manifest. Deleting an unknown id is not an error.
func (b *BoltBackend) Delete(ctx context.Context, id string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(runsBucket).Delete([]byte(id))
	})
	if err != nil {
		return lferrors.Wrap(err, lferrors.CodeLedgerFailed, "failed to delete manifest").WithContext("id", id)
	}
	return nil
}

// Name returns "bolt".
func (b *BoltBackend) Name() string {
	return BackendBolt
}

// Close closes the database.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}
