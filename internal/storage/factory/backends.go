package factory

import (
	"context"

	"github.com/inbetweenies/graphsync/internal/storage"
	"github.com/inbetweenies/graphsync/internal/storage/memory"
	"github.com/inbetweenies/graphsync/internal/storage/sqlitestore"
)

func init() {
	RegisterBackend("memory", func(ctx context.Context, path string, opts Options) (storage.Storage, error) {
		return memory.New(), nil
	})
	RegisterBackend("sqlite", func(ctx context.Context, path string, opts Options) (storage.Storage, error) {
		return sqlitestore.New(ctx, path)
	})
}
