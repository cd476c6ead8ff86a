package sqlitestore

import (
	"context"
	"testing"
	"time"

	"github.com/inbetweenies/graphsync/internal/storage"
	"github.com/inbetweenies/graphsync/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestApplyVersionedGenesisThenUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	genesis := types.Entity{
		ID: "e1", Version: "v1", Type: types.EntityRoom, Name: "Kitchen",
		UserID: "alice", CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	seq, err := s.ApplyVersioned(ctx, genesis, "", types.ChangeRecord{
		Kind: types.ChangeCreate, EntityID: "e1", Version: "v1", OriginNodeID: "nodeA",
	})
	if err != nil {
		t.Fatalf("genesis ApplyVersioned: %v", err)
	}
	if seq != 1 {
		t.Fatalf("expected sequence 1, got %d", seq)
	}

	if _, err := s.ApplyVersioned(ctx, genesis, "", types.ChangeRecord{
		Kind: types.ChangeCreate, EntityID: "e1", Version: "v1b", OriginNodeID: "nodeA",
	}); err == nil {
		t.Fatal("expected error re-applying genesis over existing current")
	}

	update := genesis
	update.Version = "v2"
	seq, err = s.ApplyVersioned(ctx, update, "v1", types.ChangeRecord{
		Kind: types.ChangeUpdate, EntityID: "e1", Version: "v2", PriorVersion: "v1", OriginNodeID: "nodeA",
	})
	if err != nil {
		t.Fatalf("update ApplyVersioned: %v", err)
	}
	if seq != 2 {
		t.Fatalf("expected sequence 2, got %d", seq)
	}

	cur, err := s.GetCurrent(ctx, "e1")
	if err != nil {
		t.Fatalf("GetCurrent: %v", err)
	}
	if cur.Version != "v2" {
		t.Fatalf("expected current version v2, got %s", cur.Version)
	}
	if cur.Name != "Kitchen" {
		t.Fatalf("expected name preserved across update, got %q", cur.Name)
	}

	stale := genesis
	stale.Version = "v3"
	if _, err := s.ApplyVersioned(ctx, stale, "v1", types.ChangeRecord{
		Kind: types.ChangeUpdate, EntityID: "e1", Version: "v3", PriorVersion: "v1", OriginNodeID: "nodeB",
	}); err == nil {
		t.Fatal("expected ParentMismatch error applying stale-parented version")
	}
}

func TestGetVersionNotFoundReturnsGraphError(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetVersion(context.Background(), "missing", "v1")
	if err == nil {
		t.Fatal("expected error for missing version")
	}
	ge, ok := err.(*types.GraphError)
	if !ok {
		t.Fatalf("expected *types.GraphError, got %T", err)
	}
	if ge.Kind != types.KindNotFound {
		t.Fatalf("expected KindNotFound, got %s", ge.Kind)
	}
}

func TestListVersionsOrdersByVersionString(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, v := range []string{"v2", "v1", "v3"} {
		e := types.Entity{ID: "e1", Version: v, Type: types.EntityDevice, Name: "Lamp", UserID: "alice"}
		if err := s.PutVersion(ctx, e); err != nil {
			t.Fatalf("PutVersion %s: %v", v, err)
		}
	}
	versions, err := s.ListVersions(ctx, "e1")
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 3 || versions[0].Version != "v1" || versions[2].Version != "v3" {
		t.Fatalf("unexpected version order: %+v", versions)
	}
}

func TestRelationshipCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r := types.Relationship{
		ID: "r1", FromEntityID: "room1", ToEntityID: "room2",
		Type: types.RelConnectsTo, UserID: "alice",
	}
	if err := s.PutRelationship(ctx, r); err != nil {
		t.Fatalf("PutRelationship: %v", err)
	}

	from, err := s.RelationshipsFrom(ctx, "room1")
	if err != nil {
		t.Fatalf("RelationshipsFrom: %v", err)
	}
	if len(from) != 1 || from[0].ID != "r1" {
		t.Fatalf("expected one relationship from room1, got %+v", from)
	}

	to, err := s.RelationshipsTo(ctx, "room2")
	if err != nil {
		t.Fatalf("RelationshipsTo: %v", err)
	}
	if len(to) != 1 || to[0].ID != "r1" {
		t.Fatalf("expected one relationship to room2, got %+v", to)
	}

	if err := s.DeleteRelationship(ctx, "r1"); err != nil {
		t.Fatalf("DeleteRelationship: %v", err)
	}
	from, err = s.RelationshipsFrom(ctx, "room1")
	if err != nil {
		t.Fatalf("RelationshipsFrom after delete: %v", err)
	}
	if len(from) != 0 {
		t.Fatalf("expected no relationships after delete, got %+v", from)
	}
}

func TestScanChangesRespectsLimitAndSequence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		if _, err := s.AppendChange(ctx, types.ChangeRecord{
			Kind: types.ChangeCreate, EntityID: "e", Version: "v", OriginNodeID: "n",
		}); err != nil {
			t.Fatalf("AppendChange: %v", err)
		}
	}
	recs, err := s.ScanChanges(ctx, 2, 2)
	if err != nil {
		t.Fatalf("ScanChanges: %v", err)
	}
	if len(recs) != 2 || recs[0].Sequence != 3 || recs[1].Sequence != 4 {
		t.Fatalf("unexpected scan window: %+v", recs)
	}

	latest, err := s.LatestSequence(ctx)
	if err != nil {
		t.Fatalf("LatestSequence: %v", err)
	}
	if latest != 5 {
		t.Fatalf("expected latest sequence 5, got %d", latest)
	}
}

func TestRunInTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.PutRelationship(ctx, types.Relationship{
			ID: "r1", FromEntityID: "a", ToEntityID: "b", Type: types.RelConnectsTo, UserID: "alice",
		}); err != nil {
			return err
		}
		return errRollbackProbe
	})
	if err == nil {
		t.Fatal("expected RunInTransaction to surface the callback's error")
	}

	if _, err := s.GetRelationship(ctx, "r1"); err == nil {
		t.Fatal("expected relationship write to be rolled back")
	}
}

var errRollbackProbe = errTestOnly("forced rollback")

type errTestOnly string

func (e errTestOnly) Error() string { return string(e) }

func TestRepairScanFindsDanglingCurrentPointer(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.PutVersion(ctx, types.Entity{ID: "e1", Version: "v1", Type: types.EntityRoom, Name: "Den", UserID: "alice"}); err != nil {
		t.Fatalf("PutVersion: %v", err)
	}
	if err := s.SetCurrent(ctx, "e1", "v1"); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE current_versions SET version = 'v-missing' WHERE id = 'e1'`); err != nil {
		t.Fatalf("corrupt current pointer: %v", err)
	}

	issues, err := s.RepairScan(ctx)
	if err != nil {
		t.Fatalf("RepairScan: %v", err)
	}
	if len(issues) != 1 || issues[0].EntityID != "e1" {
		t.Fatalf("expected one dangling-pointer issue, got %+v", issues)
	}
}
