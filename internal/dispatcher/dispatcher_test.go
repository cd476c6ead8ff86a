package dispatcher_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/inbetweenies/graphsync/internal/dispatcher"
	"github.com/inbetweenies/graphsync/internal/graphindex"
	"github.com/inbetweenies/graphsync/internal/storage/memory"
	"github.com/inbetweenies/graphsync/internal/types"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*dispatcher.Dispatcher, *memory.Store, *graphindex.Index) {
	t.Helper()
	store := memory.New()
	idx := graphindex.New()
	d := dispatcher.New(store, idx, "node-a", nil)
	return d, store, idx
}

func seedEntity(t *testing.T, d *dispatcher.Dispatcher, typ types.EntityType, name string, content types.Content) types.Entity {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"type": typ, "name": name, "content": content, "user_id": "alice"})
	require.NoError(t, err)
	res := d.Dispatch(context.Background(), dispatcher.ToolCreateEntity, raw)
	require.True(t, res.Success, "%v", res.Error)
	e, ok := res.Result.(types.Entity)
	require.True(t, ok)
	return e
}

func seedRelationship(t *testing.T, d *dispatcher.Dispatcher, from, to string, typ types.RelationshipType) types.Relationship {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"from_id": from, "to_id": to, "type": typ, "user_id": "alice"})
	require.NoError(t, err)
	res := d.Dispatch(context.Background(), dispatcher.ToolCreateRelationship, raw)
	require.True(t, res.Success, "%v", res.Error)
	r, ok := res.Result.(types.Relationship)
	require.True(t, ok)
	return r
}

func TestCreateEntityThenGetDevicesInRoom(t *testing.T) {
	d, _, _ := setup(t)
	room := seedEntity(t, d, types.EntityRoom, "Kitchen", nil)
	lamp := seedEntity(t, d, types.EntityDevice, "Lamp", types.Content{"watts": 9})
	seedRelationship(t, d, lamp.ID, room.ID, types.RelLocatedIn)

	raw, _ := json.Marshal(map[string]string{"room_id": room.ID})
	res := d.Dispatch(context.Background(), dispatcher.ToolGetDevicesInRoom, raw)
	require.True(t, res.Success)
	devices := res.Result.([]types.Entity)
	require.Len(t, devices, 1)
	require.Equal(t, "Lamp", devices[0].Name)
}

func TestFindDeviceControls(t *testing.T) {
	d, _, _ := setup(t)
	app := seedEntity(t, d, types.EntityApp, "Home App", nil)
	lamp := seedEntity(t, d, types.EntityDevice, "Lamp", nil)
	seedRelationship(t, d, app.ID, lamp.ID, types.RelControlledByApp)

	raw, _ := json.Marshal(map[string]string{"device_id": lamp.ID})
	res := d.Dispatch(context.Background(), dispatcher.ToolFindDeviceControls, raw)
	require.True(t, res.Success)
	rels := res.Result.([]types.Relationship)
	require.Len(t, rels, 1)
	require.Equal(t, types.RelControlledByApp, rels[0].Type)
}

func TestGetRoomConnectionsDirectAndViaDoor(t *testing.T) {
	d, _, _ := setup(t)
	kitchen := seedEntity(t, d, types.EntityRoom, "Kitchen", nil)
	hallway := seedEntity(t, d, types.EntityRoom, "Hallway", nil)
	door := seedEntity(t, d, types.EntityDoor, "Kitchen Door", nil)
	pantry := seedEntity(t, d, types.EntityRoom, "Pantry", nil)

	seedRelationship(t, d, kitchen.ID, door.ID, types.RelConnectsTo)
	seedRelationship(t, d, door.ID, hallway.ID, types.RelConnectsTo)
	seedRelationship(t, d, pantry.ID, kitchen.ID, types.RelConnectsTo)

	raw, _ := json.Marshal(map[string]string{"room_id": kitchen.ID})
	res := d.Dispatch(context.Background(), dispatcher.ToolGetRoomConnections, raw)
	require.True(t, res.Success)
	rooms := res.Result.([]types.Entity)
	require.Len(t, rooms, 2)
	require.ElementsMatch(t, []string{"Hallway", "Pantry"}, []string{rooms[0].Name, rooms[1].Name})
}

func TestSearchEntitiesRanksByTokenOverlap(t *testing.T) {
	d, _, idx := setup(t)
	kitchen := seedEntity(t, d, types.EntityRoom, "Kitchen Pantry", nil)
	idx.ApplyEntity(kitchen)
	lamp := seedEntity(t, d, types.EntityDevice, "Kitchen Lamp", nil)
	idx.ApplyEntity(lamp)

	raw, _ := json.Marshal(map[string]string{"query": "kitchen lamp"})
	res := d.Dispatch(context.Background(), dispatcher.ToolSearchEntities, raw)
	require.True(t, res.Success)
	out := res.Result.([]types.Entity)
	require.NotEmpty(t, out)
	require.Equal(t, "Kitchen Lamp", out[0].Name)
}

func TestFindPathReturnsNotFoundErrorWhenUnreachable(t *testing.T) {
	d, _, idx := setup(t)
	a := seedEntity(t, d, types.EntityRoom, "A", nil)
	b := seedEntity(t, d, types.EntityRoom, "B", nil)
	idx.ApplyEntity(a)
	idx.ApplyEntity(b)

	raw, _ := json.Marshal(map[string]string{"from_id": a.ID, "to_id": b.ID})
	res := d.Dispatch(context.Background(), dispatcher.ToolFindPath, raw)
	require.False(t, res.Success)
	require.Equal(t, types.KindNotFound, res.Error.Kind)
}

func TestUpdateEntityCreatesNewVersionWithOldCurrentAsParent(t *testing.T) {
	d, store, _ := setup(t)
	room := seedEntity(t, d, types.EntityRoom, "Kitchen", types.Content{"floor": 1})

	raw, _ := json.Marshal(map[string]any{
		"entity_id": room.ID,
		"changes":   types.Content{"floor": 2},
		"user_id":   "bob",
	})
	res := d.Dispatch(context.Background(), dispatcher.ToolUpdateEntity, raw)
	require.True(t, res.Success, "%v", res.Error)
	updated := res.Result.(types.Entity)
	require.Equal(t, []string{room.Version}, updated.ParentVersions)
	require.Equal(t, float64(2), updated.Content["floor"])

	cur, err := store.GetCurrent(context.Background(), room.ID)
	require.NoError(t, err)
	require.Equal(t, updated.Version, cur.Version)
}

func TestGetEntityDetailsIncludesBothDirections(t *testing.T) {
	d, _, _ := setup(t)
	room := seedEntity(t, d, types.EntityRoom, "Kitchen", nil)
	lamp := seedEntity(t, d, types.EntityDevice, "Lamp", nil)
	seedRelationship(t, d, lamp.ID, room.ID, types.RelLocatedIn)
	home := seedEntity(t, d, types.EntityHome, "House", nil)
	seedRelationship(t, d, room.ID, home.ID, types.RelPartOf)

	raw, _ := json.Marshal(map[string]string{"entity_id": room.ID})
	res := d.Dispatch(context.Background(), dispatcher.ToolGetEntityDetails, raw)
	require.True(t, res.Success)

	// The result is the dispatcher's own unexported struct, so the test
	// round-trips it through JSON into a local struct of the same shape.
	type details struct {
		Entity        types.Entity
		Relationships []types.Relationship
	}
	raw2, err := json.Marshal(res.Result)
	require.NoError(t, err)
	var got details
	require.NoError(t, json.Unmarshal(raw2, &got))
	require.Equal(t, room.ID, got.Entity.ID)
	require.Len(t, got.Relationships, 2)
}

func TestDispatchUnknownToolReturnsFailure(t *testing.T) {
	d, _, _ := setup(t)
	res := d.Dispatch(context.Background(), dispatcher.ToolName("not_a_tool"), json.RawMessage(`{}`))
	require.False(t, res.Success)
	require.NotNil(t, res.Error)
}
