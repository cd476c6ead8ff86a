// Package memory is an in-process Storage backend: a map-backed Entity
// Store used by unit tests for the resolver, dispatcher, graph index, and
// sync engine, so those tests don't pay SQLite setup cost. A
// single mutex guards a handful of maps (versions, current pointers,
// relationships, change log), the same shape as a map-backed resource
// registry generalized to the full entity/relationship/change-log
// contract.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/inbetweenies/graphsync/internal/storage"
	"github.com/inbetweenies/graphsync/internal/types"
)

type versionKey struct {
	id      string
	version string
}

// Store is a single-process, mutex-serialized Storage implementation.
type Store struct {
	mu sync.Mutex

	versions map[versionKey]types.Entity
	current  map[string]string // entity id -> current version

	relationships map[string]types.Relationship

	changes  []types.ChangeRecord
	nextSeq  int64
}

// New creates an empty in-memory Store.
func New() *Store {
	return &Store{
		versions:      make(map[versionKey]types.Entity),
		current:       make(map[string]string),
		relationships: make(map[string]types.Relationship),
		nextSeq:       1,
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) PutVersion(ctx context.Context, e types.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putVersionLocked(e)
}

func (s *Store) putVersionLocked(e types.Entity) error {
	key := versionKey{e.ID, e.Version}
	if _, exists := s.versions[key]; exists {
		return types.NewError(types.KindDuplicateVersion, "PutVersion", fmt.Errorf("(%s, %s) already exists", e.ID, e.Version))
	}
	s.versions[key] = e
	return nil
}

func (s *Store) GetVersion(ctx context.Context, id, version string) (*types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.versions[versionKey{id, version}]
	if !ok {
		return nil, types.NewError(types.KindNotFound, "GetVersion", fmt.Errorf("(%s, %s)", id, version))
	}
	return &e, nil
}

func (s *Store) GetCurrent(ctx context.Context, id string) (*types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.current[id]
	if !ok {
		return nil, types.NewError(types.KindNotFound, "GetCurrent", fmt.Errorf("entity %s", id))
	}
	e := s.versions[versionKey{id, v}]
	return &e, nil
}

func (s *Store) ListVersions(ctx context.Context, id string) ([]types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Entity
	for k, e := range s.versions {
		if k.id == id {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *Store) SetCurrent(ctx context.Context, id, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setCurrentLocked(id, version)
}

func (s *Store) setCurrentLocked(id, version string) error {
	if _, ok := s.versions[versionKey{id, version}]; !ok {
		return types.NewError(types.KindNotFound, "SetCurrent", fmt.Errorf("(%s, %s)", id, version))
	}
	s.current[id] = version
	return nil
}

func (s *Store) FindByType(ctx context.Context, t types.EntityType) ([]types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Entity
	for id, v := range s.current {
		e := s.versions[versionKey{id, v}]
		if e.Type == t {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) FindByNameSubstring(ctx context.Context, q string) ([]types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q = strings.ToLower(q)
	var out []types.Entity
	for id, v := range s.current {
		e := s.versions[versionKey{id, v}]
		if strings.Contains(strings.ToLower(e.Name), q) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ScanCurrent(ctx context.Context) ([]types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Entity, 0, len(s.current))
	for id, v := range s.current {
		out = append(out, s.versions[versionKey{id, v}])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) PutRelationship(ctx context.Context, r types.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putRelationshipLocked(r)
}

func (s *Store) putRelationshipLocked(r types.Relationship) error {
	s.relationships[r.ID] = r
	return nil
}

func (s *Store) GetRelationship(ctx context.Context, id string) (*types.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.relationships[id]
	if !ok {
		return nil, types.NewError(types.KindNotFound, "GetRelationship", fmt.Errorf("relationship %s", id))
	}
	return &r, nil
}

func (s *Store) RelationshipsFrom(ctx context.Context, entityID string) ([]types.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Relationship
	for _, r := range s.relationships {
		if r.FromEntityID == entityID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) RelationshipsTo(ctx context.Context, entityID string) ([]types.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Relationship
	for _, r := range s.relationships {
		if r.ToEntityID == entityID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteRelationship(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteRelationshipLocked(id)
}

func (s *Store) deleteRelationshipLocked(id string) error {
	delete(s.relationships, id)
	return nil
}

func (s *Store) AppendChange(ctx context.Context, c types.ChangeRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendChangeLocked(c)
}

func (s *Store) appendChangeLocked(c types.ChangeRecord) (int64, error) {
	c.Sequence = s.nextSeq
	s.nextSeq++
	s.changes = append(s.changes, c)
	return c.Sequence, nil
}

func (s *Store) ScanChanges(ctx context.Context, sinceSequence int64, limit int) ([]types.ChangeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.ChangeRecord
	for _, c := range s.changes {
		if c.Sequence > sinceSequence {
			out = append(out, c)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) LatestSequence(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq - 1, nil
}

// ApplyVersioned performs PutVersion + SetCurrent + AppendChange
// atomically under the store's single mutex.
func (s *Store) ApplyVersioned(ctx context.Context, e types.Entity, priorCurrent string, c types.ChangeRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, hasCurrent := s.current[e.ID]
	switch {
	case priorCurrent == "" && hasCurrent:
		return 0, types.NewError(types.KindParentMismatch, "ApplyVersioned",
			fmt.Errorf("entity %s already has a current version %q", e.ID, cur))
	case priorCurrent != "" && !hasCurrent:
		return 0, types.NewError(types.KindParentMismatch, "ApplyVersioned",
			fmt.Errorf("entity %s has no current version yet", e.ID))
	case priorCurrent != "" && cur != priorCurrent:
		return 0, types.NewError(types.KindParentMismatch, "ApplyVersioned",
			fmt.Errorf("entity %s: expected current %q, found %q", e.ID, priorCurrent, cur))
	}

	if err := s.putVersionLocked(e); err != nil {
		return 0, err
	}
	if err := s.setCurrentLocked(e.ID, e.Version); err != nil {
		return 0, err
	}
	return s.appendChangeLocked(c)
}

// memTx implements storage.Transaction directly against the locked Store;
// RunInTransaction holds the Store's mutex for the duration of fn, giving
// the same all-or-nothing semantics the SQL-backed stores get from a real
// database transaction.
type memTx struct{ store *Store }

func (t *memTx) PutVersion(ctx context.Context, e types.Entity) error {
	return t.store.putVersionLocked(e)
}

func (t *memTx) SetCurrent(ctx context.Context, id, version string) error {
	return t.store.setCurrentLocked(id, version)
}

func (t *memTx) PutRelationship(ctx context.Context, r types.Relationship) error {
	return t.store.putRelationshipLocked(r)
}

func (t *memTx) DeleteRelationship(ctx context.Context, id string) error {
	return t.store.deleteRelationshipLocked(id)
}

func (t *memTx) AppendChange(ctx context.Context, c types.ChangeRecord) (int64, error) {
	return t.store.appendChangeLocked(c)
}

func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memTx{store: s})
}

func (s *Store) RepairScan(ctx context.Context) ([]storage.RepairIssue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var issues []storage.RepairIssue
	for id, v := range s.current {
		if _, ok := s.versions[versionKey{id, v}]; !ok {
			issues = append(issues, storage.RepairIssue{EntityID: id, Version: v, Problem: "current pointer references missing version"})
		}
	}
	for k, e := range s.versions {
		for _, p := range e.ParentVersions {
			if _, ok := s.versions[versionKey{k.id, p}]; !ok {
				issues = append(issues, storage.RepairIssue{EntityID: k.id, Version: k.version, Problem: fmt.Sprintf("parent version %q not found", p)})
			}
		}
	}
	return issues, nil
}

var _ storage.Storage = (*Store)(nil)
