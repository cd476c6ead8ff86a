// Package factory resolves a storage DSN string (e.g. "memory://" or
// "sqlite:///var/lib/inbetweenies/graph.db") into a concrete
// storage.Storage backend, via the same RegisterBackend/New registry
// shape used to select among embedded and server-mode database drivers.
package factory

import (
	"context"
	"fmt"
	"strings"

	"github.com/inbetweenies/graphsync/internal/storage"
)

// BackendFactory opens a Storage backend given the DSN's path/opaque
// portion (everything after "scheme://").
type BackendFactory func(ctx context.Context, path string, opts Options) (storage.Storage, error)

var backendRegistry = make(map[string]BackendFactory)

// RegisterBackend adds a backend under scheme, overwriting any prior
// registration. backends.go registers the built-in backends this way.
func RegisterBackend(scheme string, factory BackendFactory) {
	backendRegistry[scheme] = factory
}

// Options tunes how a backend opens its underlying storage.
type Options struct {
	ReadOnly bool
}

// New parses dsn as "scheme://rest" and opens the registered backend
// for scheme. An empty dsn defaults to the in-memory backend.
func New(ctx context.Context, dsn string) (storage.Storage, error) {
	return NewWithOptions(ctx, dsn, Options{})
}

// NewWithOptions is New with backend-specific Options.
func NewWithOptions(ctx context.Context, dsn string, opts Options) (storage.Storage, error) {
	scheme, path := splitDSN(dsn)
	factory, ok := backendRegistry[scheme]
	if !ok {
		return nil, fmt.Errorf("factory: unknown storage backend %q (registered: %s)", scheme, registeredSchemes())
	}
	return factory(ctx, path, opts)
}

func splitDSN(dsn string) (scheme, path string) {
	if dsn == "" {
		return "memory", ""
	}
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return "memory", ""
	}
	return scheme, rest
}

func registeredSchemes() string {
	schemes := make([]string, 0, len(backendRegistry))
	for s := range backendRegistry {
		schemes = append(schemes, s)
	}
	return strings.Join(schemes, ", ")
}
