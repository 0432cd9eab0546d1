// Package storage provides the asset byte store behind the downloader.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/mwirth/immoharvest/internal/config"
)

// Store is the target for downloaded assets, addressed by key.
//
// Put must be all-or-nothing: a crash mid-write may leave garbage, but a
// later Exists or read for the same key must never observe a partial
// object. The filesystem backend gets this from temp-file + rename; object
// stores get it from atomic PUT semantics.
type Store interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	URL(key string) string
}

// New creates a Store based on the configured backend.
func New(cfg *config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "fs":
		return NewFSStore(cfg.Dir)
	case "s3", "r2":
		return NewS3Store(&cfg.S3, cfg.Backend == "r2")
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
