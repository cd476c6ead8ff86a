// Package changelog is a thin, storage-backed wrapper over the Change
// Log: append, cursor-based scan, origin filtering, and JSONL
// export/import for offline transfer and debugging. Append and scan
// both delegate straight to storage.Storage, which owns durability;
// this package adds origin filtering and JSONL framing on top.
//
// JSONL framing follows the same line-oriented, one-JSON-object-per-line,
// large-line-tolerant scanner shape as a typical JSONL reader.
package changelog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/inbetweenies/graphsync/internal/storage"
	"github.com/inbetweenies/graphsync/internal/types"
)

// Log is a handle on a backing Storage's change log.
type Log struct {
	store storage.Storage
}

// New wraps a Storage's change-log operations.
func New(store storage.Storage) *Log {
	return &Log{store: store}
}

// Append records one mutation. The sequence it is assigned is returned.
func (l *Log) Append(ctx context.Context, c types.ChangeRecord) (int64, error) {
	if err := c.Validate(); err != nil {
		return 0, fmt.Errorf("changelog: append: %w", err)
	}
	return l.store.AppendChange(ctx, c)
}

// ScanFrom returns up to limit records with sequence > sinceSequence, in
// ascending sequence order. limit <= 0 means no limit.
func (l *Log) ScanFrom(ctx context.Context, sinceSequence int64, limit int) ([]types.ChangeRecord, error) {
	return l.store.ScanChanges(ctx, sinceSequence, limit)
}

// OriginFilter scans from sinceSequence and drops any record whose
// OriginNodeID equals excludeNodeID, so a sync cycle never echoes a
// node's own writes back to it.
func (l *Log) OriginFilter(ctx context.Context, sinceSequence int64, limit int, excludeNodeID string) ([]types.ChangeRecord, error) {
	recs, err := l.store.ScanChanges(ctx, sinceSequence, limit)
	if err != nil {
		return nil, err
	}
	out := make([]types.ChangeRecord, 0, len(recs))
	for _, r := range recs {
		if r.OriginNodeID != excludeNodeID {
			out = append(out, r)
		}
	}
	return out, nil
}

// LatestSequence returns the highest sequence assigned so far.
func (l *Log) LatestSequence(ctx context.Context) (int64, error) {
	return l.store.LatestSequence(ctx)
}

// Export writes every change-log record from sinceSequence onward to w,
// one JSON object per line, for offline transfer or debugging.
func (l *Log) Export(ctx context.Context, w io.Writer, sinceSequence int64) error {
	recs, err := l.store.ScanChanges(ctx, sinceSequence, 0)
	if err != nil {
		return fmt.Errorf("changelog: export: %w", err)
	}
	enc := json.NewEncoder(w)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("changelog: export: encode sequence %d: %w", r.Sequence, err)
		}
	}
	return nil
}

// Import reads JSONL change records from r and appends each to the
// backing store in order. Sequence numbers in the stream are ignored;
// the store assigns fresh ones, since sequence is local to each store's
// own monotonic counter.
func Import(ctx context.Context, l *Log, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	count := 0
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec types.ChangeRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return count, fmt.Errorf("changelog: import: line %d: %w", lineNum, err)
		}
		if _, err := l.Append(ctx, rec); err != nil {
			return count, fmt.Errorf("changelog: import: line %d: %w", lineNum, err)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("changelog: import: %w", err)
	}
	return count, nil
}
