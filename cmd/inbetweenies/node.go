package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/inbetweenies/graphsync/internal/dispatcher"
	"github.com/inbetweenies/graphsync/internal/graphindex"
	"github.com/inbetweenies/graphsync/internal/httpclient"
	"github.com/inbetweenies/graphsync/internal/nodeconfig"
	"github.com/inbetweenies/graphsync/internal/replica"
	"github.com/inbetweenies/graphsync/internal/resolver"
	"github.com/inbetweenies/graphsync/internal/storage"
	"github.com/inbetweenies/graphsync/internal/storage/factory"
	"github.com/inbetweenies/graphsync/internal/syncengine"
)

// node bundles the components every subcommand wires together: a
// storage backend, its search/adjacency index, the client-side
// outbound queue, and the sync engine that drives cycles against a
// remote peer.
type node struct {
	cfg    *nodeconfig.Config
	store  storage.Storage
	index  *graphindex.Index
	queue  *replica.Coordinator
	engine *syncengine.Engine
	disp   *dispatcher.Dispatcher
}

// openNode loads configPath and wires a node's components. The engine's
// transport is nil when remote.url is empty.
func openNode(ctx context.Context, configPath string) (*node, error) {
	cfg, err := nodeconfig.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", cfg.Node.DataDir, err)
	}

	store, err := factory.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	idx := graphindex.New()
	if err := idx.Rebuild(ctx, store); err != nil {
		return nil, fmt.Errorf("rebuild index: %w", err)
	}

	queue, err := replica.New(filepath.Join(cfg.Node.DataDir, "outbound.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("open outbound queue: %w", err)
	}

	var transport syncengine.Transport
	if cfg.Remote.URL != "" {
		transport = httpclient.New(cfg.Remote.URL, cfg.Remote.Token, cfg.Remote.Timeout)
	}

	engine := syncengine.NewEngine(cfg.Node.ID, cfg.Node.UserID, store, idx, resolver.New(), queue, transport)
	engine.Limits = cfg.Batch
	engine.Retry = cfg.Retry

	d := dispatcher.New(store, idx, cfg.Node.ID, queue)

	return &node{cfg: cfg, store: store, index: idx, queue: queue, engine: engine, disp: d}, nil
}

func (n *node) Close() {
	_ = n.queue.Close()
	_ = n.store.Close()
}
