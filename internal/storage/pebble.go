package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	pebble "github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

const localPrefix = "local:"

// Pebble persists local state on disk.
type Pebble struct {
	db *pebble.DB
}

// OpenPebble opens (creating if needed) the store at dir.
func OpenPebble(dir string) (*Pebble, error) {
	if err := os.MkdirAll(filepath.Dir(dir), 0o700); err != nil {
		return nil, err
	}
	return openPebble(dir, &pebble.Options{})
}

// OpenPebbleInMemory opens a store on an in-memory filesystem.
func OpenPebbleInMemory() (*Pebble, error) {
	return openPebble("", &pebble.Options{FS: vfs.NewMem()})
}

func openPebble(dir string, opts *pebble.Options) (*Pebble, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble %q: %w", dir, err)
	}
	return &Pebble{db: db}, nil
}

func (p *Pebble) Get(_ context.Context, key string) (string, bool, error) {
	if p.db == nil {
		return "", false, ErrClosed
	}
	v, closer, err := p.db.Get([]byte(localPrefix + key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	defer closer.Close()
	// string() copies; v is only valid until closer.Close
	return string(v), true, nil
}

func (p *Pebble) Set(_ context.Context, key, value string) error {
	if p.db == nil {
		return ErrClosed
	}
	return p.db.Set([]byte(localPrefix+key), []byte(value), pebble.Sync)
}

func (p *Pebble) Delete(_ context.Context, keys ...string) error {
	if p.db == nil {
		return ErrClosed
	}
	b := p.db.NewBatch()
	defer b.Close()
	for _, k := range keys {
		if err := b.Delete([]byte(localPrefix+k), nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

func (p *Pebble) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}
