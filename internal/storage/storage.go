// Package storage defines the transactional contract every Entity Store
// backend must satisfy: versioned put/get, an atomic current-pointer
// swap, change-log append/scan, and the range queries the Graph Index
// and Tool Dispatcher need. Concrete backends live in the sqlitestore
// and memory subpackages.
package storage

import (
	"context"

	"github.com/inbetweenies/graphsync/internal/types"
)

// RepairIssue describes one row the repair-scan diagnostic found corrupt
// or otherwise inconsistent. Corruption of an individual row must not
// block access to others.
type RepairIssue struct {
	EntityID string
	Version  string
	Problem  string
}

// Transaction is the set of writes that must commit atomically: a single
// entity or relationship write plus its change-log append and (for
// entities) the current-pointer swap. Obtained via Storage.RunInTransaction.
type Transaction interface {
	PutVersion(ctx context.Context, e types.Entity) error
	SetCurrent(ctx context.Context, id, version string) error
	PutRelationship(ctx context.Context, r types.Relationship) error
	DeleteRelationship(ctx context.Context, id string) error
	AppendChange(ctx context.Context, c types.ChangeRecord) (int64, error)
}

// Storage is the Entity Store contract. Implementations must guarantee
// single-writer-serializable PutVersion+SetCurrent+AppendChange (via
// RunInTransaction / ApplyVersioned) and snapshot-consistent reads.
type Storage interface {
	// PutVersion appends a new immutable entity row. Returns a
	// *types.GraphError{Kind: types.KindDuplicateVersion} if (id, version)
	// already exists.
	PutVersion(ctx context.Context, e types.Entity) error
	GetVersion(ctx context.Context, id, version string) (*types.Entity, error)
	GetCurrent(ctx context.Context, id string) (*types.Entity, error)
	ListVersions(ctx context.Context, id string) ([]types.Entity, error)
	SetCurrent(ctx context.Context, id, version string) error

	FindByType(ctx context.Context, t types.EntityType) ([]types.Entity, error)
	FindByNameSubstring(ctx context.Context, q string) ([]types.Entity, error)
	ScanCurrent(ctx context.Context) ([]types.Entity, error)

	PutRelationship(ctx context.Context, r types.Relationship) error
	GetRelationship(ctx context.Context, id string) (*types.Relationship, error)
	RelationshipsFrom(ctx context.Context, entityID string) ([]types.Relationship, error)
	RelationshipsTo(ctx context.Context, entityID string) ([]types.Relationship, error)
	DeleteRelationship(ctx context.Context, id string) error

	AppendChange(ctx context.Context, c types.ChangeRecord) (int64, error)
	ScanChanges(ctx context.Context, sinceSequence int64, limit int) ([]types.ChangeRecord, error)
	LatestSequence(ctx context.Context) (int64, error)

	// ApplyVersioned performs PutVersion + SetCurrent + AppendChange as one
	// atomic, single-writer-serializable unit. priorCurrent is the version
	// ApplyVersioned expects to be current
	// immediately before the swap; pass "" for a genesis create.
	ApplyVersioned(ctx context.Context, e types.Entity, priorCurrent string, c types.ChangeRecord) (int64, error)

	// RunInTransaction groups arbitrary writes (e.g. an entity write plus
	// several relationship writes) into one atomic unit.
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	RepairScan(ctx context.Context) ([]RepairIssue, error)
	Close() error
}
