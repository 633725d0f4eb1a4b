// Package storage selects the blob store backend used to archive raw
// datasets and exported maps.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	gcsclient "cloud.google.com/go/storage"

	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/config"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/drought"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/storage/gcs"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/storage/local"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/storage/memory"
)

// Open builds the configured backend. The returned close function releases
// client resources and is never nil.
func Open(ctx context.Context, cfg config.StorageConfig) (drought.BlobStore, func() error, error) {
	noop := func() error { return nil }
	var (
		store drought.BlobStore
		err   error
	)
	closeFn := noop
	switch cfg.Backend {
	case "", "memory":
		store = memory.NewBlobStore()
	case "local":
		store, err = local.New(local.Config{BaseDir: cfg.BaseDir})
	case "gcs":
		var client *gcsclient.Client
		client, err = gcsclient.NewClient(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("create gcs client: %w", err)
		}
		closeFn = client.Close
		store, err = gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket})
	default:
		err = fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		_ = closeFn()
		return nil, noop, err
	}
	return WithPrefix(store, cfg.Prefix), closeFn, nil
}

// Prefixed prepends a fixed prefix to every object path.
type Prefixed struct {
	next   drought.BlobStore
	prefix string
}

// WithPrefix wraps store so objects land under prefix. An empty prefix
// returns store unchanged.
func WithPrefix(store drought.BlobStore, prefix string) drought.BlobStore {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return store
	}
	return &Prefixed{next: store, prefix: prefix}
}

// PutObject implements drought.BlobStore.
func (p *Prefixed) PutObject(ctx context.Context, objectPath, contentType string, data io.Reader) (string, error) {
	return p.next.PutObject(ctx, path.Join(p.prefix, objectPath), contentType, data)
}
