// Package replica implements the client-side Replica Coordinator: a
// persisted outbound queue of local writes awaiting sync, a
// connection-health flag set through SetHealthy, and a suspend flag an
// operator can set during a local reset without losing queued writes.
// The since_sequence cursor is kept by syncengine.Engine, and the sync
// engine does not call SetHealthy.
//
// The queue persists as a JSONL file, one ChangeRecord per line,
// following the same line-oriented framing internal/changelog uses for
// export/import. fsnotify watches that file so an external process
// truncating or replacing it (an operator-run reset tool, say) is
// picked up without the coordinator having to poll.
package replica

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/inbetweenies/graphsync/internal/dispatcher"
	"github.com/inbetweenies/graphsync/internal/syncengine"
	"github.com/inbetweenies/graphsync/internal/types"
)

// Coordinator implements syncengine.OutboundQueue (Drain/Requeue) and
// dispatcher.OutboundQueue (Enqueue) over a single persisted file.
type Coordinator struct {
	mu        sync.Mutex
	path      string
	pending   []types.ChangeRecord
	healthy   bool
	suspended bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New creates a Coordinator backed by path, loading any queue left over
// from a previous run. path need not exist yet.
func New(path string) (*Coordinator, error) {
	c := &Coordinator{path: path, healthy: true}

	if err := c.reload(); err != nil {
		return nil, fmt.Errorf("replica: load queue: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("replica: watch queue: %w", err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("replica: watch %s: %w", dir, err)
	}
	c.watcher = watcher
	c.done = make(chan struct{})
	go c.watchLoop()

	return c, nil
}

func (c *Coordinator) watchLoop() {
	for {
		select {
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != c.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Create) != 0 {
				_ = c.reload()
			}
		case _, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close stops the file watcher. The queue file itself is left in place.
func (c *Coordinator) Close() error {
	if c.watcher == nil {
		return nil
	}
	close(c.done)
	return c.watcher.Close()
}

// Enqueue appends c to the outbound queue, unless the coordinator is
// Suspended, in which case the write is rejected: callers (the Tool
// Dispatcher) must surface that to the caller rather than silently
// dropping a write an operator chose to pause.
func (c *Coordinator) Enqueue(ctx context.Context, rec types.ChangeRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.suspended {
		return fmt.Errorf("replica: sync suspended, refusing to enqueue")
	}
	c.pending = append(c.pending, rec)
	return c.persistLocked()
}

// Drain removes and returns up to limits.MaxRecords records (stopping
// before exceeding limits.MaxBytes of encoded JSON), leaving the
// remainder queued. A first record larger than MaxBytes is still
// returned, on its own.
func (c *Coordinator) Drain(ctx context.Context, limits syncengine.BatchLimits) ([]types.ChangeRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	maxRecords := limits.MaxRecords
	if maxRecords <= 0 || maxRecords > len(c.pending) {
		maxRecords = len(c.pending)
	}

	var out []types.ChangeRecord
	var size int64
	i := 0
	for ; i < maxRecords; i++ {
		b, err := json.Marshal(c.pending[i])
		if err != nil {
			return nil, fmt.Errorf("replica: drain: marshal: %w", err)
		}
		if limits.MaxBytes > 0 && size+int64(len(b)) > limits.MaxBytes && len(out) > 0 {
			break
		}
		size += int64(len(b))
		out = append(out, c.pending[i])
	}

	c.pending = c.pending[i:]
	if err := c.persistLocked(); err != nil {
		return nil, err
	}
	return out, nil
}

// Requeue pushes records back onto the front of the queue, e.g. after a
// failed send, preserving their original order ahead of anything
// enqueued since.
func (c *Coordinator) Requeue(ctx context.Context, records []types.ChangeRecord) error {
	if len(records) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(append([]types.ChangeRecord{}, records...), c.pending...)
	return c.persistLocked()
}

// Len reports how many records are currently queued.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// SetHealthy sets the connection-health flag that Healthy reports. The
// flag starts true and changes only through this method.
func (c *Coordinator) SetHealthy(healthy bool) {
	c.mu.Lock()
	c.healthy = healthy
	c.mu.Unlock()
}

// Healthy reports whether the last sync attempt reached the server.
func (c *Coordinator) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

// Suspend stops new writes from being queued (used while an operator
// resets or repairs the local replica) without discarding what's
// already pending.
func (c *Coordinator) Suspend() {
	c.mu.Lock()
	c.suspended = true
	c.mu.Unlock()
}

// Resume re-allows Enqueue after a Suspend.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	c.suspended = false
	c.mu.Unlock()
}

// Suspended reports whether Enqueue currently rejects writes.
func (c *Coordinator) Suspended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suspended
}

func (c *Coordinator) persistLocked() error {
	tmp := c.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("replica: persist: %w", err)
	}
	enc := json.NewEncoder(f)
	for _, rec := range c.pending {
		if err := enc.Encode(rec); err != nil {
			_ = f.Close()
			return fmt.Errorf("replica: persist: encode: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("replica: persist: %w", err)
	}
	return os.Rename(tmp, c.path)
}

// reload replaces the in-memory queue with whatever is currently on
// disk. A missing file means an empty queue, not an error: that's the
// normal state after an external reset truncates it.
func (c *Coordinator) reload() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.Open(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			c.pending = nil
			return nil
		}
		return err
	}
	defer f.Close()

	var pending []types.ChangeRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec types.ChangeRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("malformed queue line: %w", err)
		}
		pending = append(pending, rec)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	c.pending = pending
	return nil
}

var (
	_ syncengine.OutboundQueue = (*Coordinator)(nil)
	_ dispatcher.OutboundQueue = (*Coordinator)(nil)
)
