package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/inbetweenies/graphsync/internal/graphindex"
	"github.com/inbetweenies/graphsync/internal/storage"
	"github.com/inbetweenies/graphsync/internal/types"
)

// --- get_devices_in_room ---

type getDevicesInRoomArgs struct {
	RoomID string `json:"room_id"`
}

func (d *Dispatcher) getDevicesInRoom(ctx context.Context, raw json.RawMessage) Result {
	var args getDevicesInRoomArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errResult("get_devices_in_room", err)
	}
	if args.RoomID == "" {
		return errResult("get_devices_in_room", fmt.Errorf("room_id is required"))
	}

	rels, err := d.Store.RelationshipsTo(ctx, args.RoomID)
	if err != nil {
		return errResult("get_devices_in_room", types.WrapStorage("get_devices_in_room", err))
	}

	var devices []types.Entity
	for _, r := range rels {
		if r.Type != types.RelLocatedIn {
			continue
		}
		e, err := d.Store.GetCurrent(ctx, r.FromEntityID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return errResult("get_devices_in_room", types.WrapStorage("get_devices_in_room", err))
		}
		if e.Type == types.EntityDevice {
			devices = append(devices, *e)
		}
	}
	sortEntitiesByID(devices)
	return okResult(devices)
}

// --- find_device_controls ---

type findDeviceControlsArgs struct {
	DeviceID string `json:"device_id"`
}

func (d *Dispatcher) findDeviceControls(ctx context.Context, raw json.RawMessage) Result {
	var args findDeviceControlsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errResult("find_device_controls", err)
	}
	if args.DeviceID == "" {
		return errResult("find_device_controls", fmt.Errorf("device_id is required"))
	}

	out, err := d.Store.RelationshipsTo(ctx, args.DeviceID)
	if err != nil {
		return errResult("find_device_controls", types.WrapStorage("find_device_controls", err))
	}
	var controls []types.Relationship
	for _, r := range out {
		if r.Type == types.RelControls || r.Type == types.RelControlledByApp {
			controls = append(controls, r)
		}
	}
	sort.Slice(controls, func(i, j int) bool { return controls[i].ID < controls[j].ID })
	return okResult(controls)
}

// --- get_room_connections ---

type getRoomConnectionsArgs struct {
	RoomID string `json:"room_id"`
}

// getRoomConnections returns the rooms reachable from room_id across a
// CONNECTS_TO edge, either directly between two ROOM entities or via an
// intervening DOOR/WINDOW entity that itself CONNECTS_TO two rooms.
func (d *Dispatcher) getRoomConnections(ctx context.Context, raw json.RawMessage) Result {
	var args getRoomConnectionsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errResult("get_room_connections", err)
	}
	if args.RoomID == "" {
		return errResult("get_room_connections", fmt.Errorf("room_id is required"))
	}

	seen := map[string]bool{args.RoomID: true}
	var rooms []types.Entity

	firstHop, err := connectedEntities(ctx, d.Store, args.RoomID)
	if err != nil {
		return errResult("get_room_connections", err)
	}

	for _, e := range firstHop {
		if seen[e.ID] {
			continue
		}
		switch e.Type {
		case types.EntityRoom:
			seen[e.ID] = true
			rooms = append(rooms, e)
		case types.EntityDoor, types.EntityWindow:
			secondHop, err := connectedEntities(ctx, d.Store, e.ID)
			if err != nil {
				return errResult("get_room_connections", err)
			}
			for _, e2 := range secondHop {
				if e2.ID == args.RoomID || seen[e2.ID] || e2.Type != types.EntityRoom {
					continue
				}
				seen[e2.ID] = true
				rooms = append(rooms, e2)
			}
		}
	}

	sortEntitiesByID(rooms)
	return okResult(rooms)
}

// connectedEntities returns the current version of every entity reachable
// from id via a CONNECTS_TO relationship in either direction.
func connectedEntities(ctx context.Context, store storage.Storage, id string) ([]types.Entity, error) {
	var out []types.Entity
	add := func(otherID string) error {
		e, err := store.GetCurrent(ctx, otherID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return nil
			}
			return types.WrapStorage("connected_entities", err)
		}
		out = append(out, *e)
		return nil
	}

	from, err := store.RelationshipsFrom(ctx, id)
	if err != nil {
		return nil, types.WrapStorage("connected_entities", err)
	}
	for _, r := range from {
		if r.Type == types.RelConnectsTo {
			if err := add(r.ToEntityID); err != nil {
				return nil, err
			}
		}
	}
	to, err := store.RelationshipsTo(ctx, id)
	if err != nil {
		return nil, types.WrapStorage("connected_entities", err)
	}
	for _, r := range to {
		if r.Type == types.RelConnectsTo {
			if err := add(r.FromEntityID); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// --- search_entities ---

type searchEntitiesArgs struct {
	Query       string            `json:"query"`
	EntityTypes []types.EntityType `json:"entity_types,omitempty"`
	Limit       int               `json:"limit,omitempty"`
}

func (d *Dispatcher) searchEntities(ctx context.Context, raw json.RawMessage) Result {
	var args searchEntitiesArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errResult("search_entities", err)
	}
	if args.Query == "" {
		return errResult("search_entities", fmt.Errorf("query is required"))
	}

	allowed := map[types.EntityType]bool{}
	for _, t := range args.EntityTypes {
		allowed[t] = true
	}

	scores := map[string]int{}
	for _, tok := range graphindex.Tokenize(args.Query) {
		for _, id := range d.Index.Search(tok) {
			scores[id]++
		}
	}

	type scored struct {
		e     types.Entity
		score int
	}
	var ranked []scored
	for id, score := range scores {
		e, ok := d.Index.Get(id)
		if !ok {
			continue
		}
		if len(allowed) > 0 && !allowed[e.Type] {
			continue
		}
		ranked = append(ranked, scored{e: e, score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].e.ID < ranked[j].e.ID
	})

	limit := args.Limit
	if limit <= 0 || limit > len(ranked) {
		limit = len(ranked)
	}
	out := make([]types.Entity, 0, limit)
	for _, s := range ranked[:limit] {
		out = append(out, s.e)
	}
	return okResult(out)
}

// --- create_entity ---

type createEntityArgs struct {
	Type    types.EntityType `json:"type"`
	Name    string           `json:"name"`
	Content types.Content    `json:"content"`
	UserID  string           `json:"user_id"`
}

func (d *Dispatcher) createEntity(ctx context.Context, raw json.RawMessage) Result {
	var args createEntityArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errResult("create_entity", err)
	}
	if args.UserID == "" {
		return errResult("create_entity", fmt.Errorf("user_id is required"))
	}

	now := timeNow()
	e := types.Entity{
		ID:        d.NewID(),
		Version:   types.NewVersion(now, args.UserID),
		Type:      args.Type,
		Name:      args.Name,
		Content:   args.Content,
		UserID:    args.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Validate(); err != nil {
		return errResult("create_entity", types.NewError(types.KindSchemaError, "create_entity", err))
	}

	rec := types.FromEntity(e, types.ChangeCreate, "", d.NodeID)
	if _, err := d.Store.ApplyVersioned(ctx, e, "", rec); err != nil {
		return errResult("create_entity", types.WrapStorage("create_entity", err))
	}
	if d.Index != nil {
		d.Index.ApplyEntity(e)
	}
	if d.Queue != nil {
		if err := d.Queue.Enqueue(ctx, rec); err != nil {
			return errResult("create_entity", fmt.Errorf("enqueue for sync: %w", err))
		}
	}
	return okResult(e)
}

// --- create_relationship ---

type createRelationshipArgs struct {
	FromID     string                `json:"from_id"`
	ToID       string                `json:"to_id"`
	Type       types.RelationshipType `json:"type"`
	Properties types.Content         `json:"properties,omitempty"`
	UserID     string                `json:"user_id"`
}

func (d *Dispatcher) createRelationship(ctx context.Context, raw json.RawMessage) Result {
	var args createRelationshipArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errResult("create_relationship", err)
	}
	if args.UserID == "" {
		return errResult("create_relationship", fmt.Errorf("user_id is required"))
	}

	now := timeNow()
	r := types.Relationship{
		ID:           d.NewRelID(),
		FromEntityID: args.FromID,
		ToEntityID:   args.ToID,
		Type:         args.Type,
		Properties:   args.Properties,
		UserID:       args.UserID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.Validate(); err != nil {
		return errResult("create_relationship", types.NewError(types.KindSchemaError, "create_relationship", err))
	}

	if err := d.Store.PutRelationship(ctx, r); err != nil {
		return errResult("create_relationship", types.WrapStorage("create_relationship", err))
	}
	if d.Index != nil {
		d.Index.ApplyRelationship(r)
	}
	return okResult(r)
}

// --- find_path ---

type findPathArgs struct {
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
}

func (d *Dispatcher) findPath(ctx context.Context, raw json.RawMessage) Result {
	var args findPathArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errResult("find_path", err)
	}
	path, err := d.Index.FindPath(args.FromID, args.ToID)
	if err != nil {
		if errors.Is(err, graphindex.ErrNoPath) {
			return errResult("find_path", types.NewError(types.KindNotFound, "find_path", err))
		}
		return errResult("find_path", err)
	}
	return okResult(path)
}

// --- get_entity_details ---

type getEntityDetailsArgs struct {
	EntityID string `json:"entity_id"`
}

type entityDetails struct {
	Entity        types.Entity         `json:"entity"`
	Relationships []types.Relationship `json:"relationships"`
}

func (d *Dispatcher) getEntityDetails(ctx context.Context, raw json.RawMessage) Result {
	var args getEntityDetailsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errResult("get_entity_details", err)
	}
	e, err := d.Store.GetCurrent(ctx, args.EntityID)
	if err != nil {
		return errResult("get_entity_details", types.WrapStorage("get_entity_details", err))
	}
	from, err := d.Store.RelationshipsFrom(ctx, args.EntityID)
	if err != nil {
		return errResult("get_entity_details", types.WrapStorage("get_entity_details", err))
	}
	to, err := d.Store.RelationshipsTo(ctx, args.EntityID)
	if err != nil {
		return errResult("get_entity_details", types.WrapStorage("get_entity_details", err))
	}
	rels := append(append([]types.Relationship{}, from...), to...)
	sort.Slice(rels, func(i, j int) bool { return rels[i].ID < rels[j].ID })
	return okResult(entityDetails{Entity: *e, Relationships: rels})
}

// --- find_similar_entities ---

type findSimilarEntitiesArgs struct {
	EntityID  string  `json:"entity_id"`
	Threshold float64 `json:"threshold,omitempty"`
}

func (d *Dispatcher) findSimilarEntities(ctx context.Context, raw json.RawMessage) Result {
	var args findSimilarEntitiesArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errResult("find_similar_entities", err)
	}
	threshold := args.Threshold
	if threshold <= 0 {
		threshold = 0.3
	}
	if _, ok := d.Index.Get(args.EntityID); !ok {
		return errResult("find_similar_entities", types.NewError(types.KindNotFound, "find_similar_entities", fmt.Errorf("entity %s not indexed", args.EntityID)))
	}
	return okResult(d.Index.SimilarTo(args.EntityID, threshold))
}

// --- get_procedures_for_device ---

type getProceduresForDeviceArgs struct {
	DeviceID string `json:"device_id"`
}

func (d *Dispatcher) getProceduresForDevice(ctx context.Context, raw json.RawMessage) Result {
	var args getProceduresForDeviceArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errResult("get_procedures_for_device", err)
	}
	rels, err := d.Store.RelationshipsTo(ctx, args.DeviceID)
	if err != nil {
		return errResult("get_procedures_for_device", types.WrapStorage("get_procedures_for_device", err))
	}
	var procedures []types.Entity
	for _, r := range rels {
		if r.Type != types.RelProcedureFor {
			continue
		}
		e, err := d.Store.GetCurrent(ctx, r.FromEntityID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return errResult("get_procedures_for_device", types.WrapStorage("get_procedures_for_device", err))
		}
		if e.Type == types.EntityProcedure {
			procedures = append(procedures, *e)
		}
	}
	sortEntitiesByID(procedures)
	return okResult(procedures)
}

// --- get_automations_in_room ---

type getAutomationsInRoomArgs struct {
	RoomID string `json:"room_id"`
}

func (d *Dispatcher) getAutomationsInRoom(ctx context.Context, raw json.RawMessage) Result {
	var args getAutomationsInRoomArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errResult("get_automations_in_room", err)
	}

	seen := map[string]bool{}
	var automations []types.Entity

	// LOCATED_IN: automation -> room directly.
	locatedRels, err := d.Store.RelationshipsTo(ctx, args.RoomID)
	if err != nil {
		return errResult("get_automations_in_room", types.WrapStorage("get_automations_in_room", err))
	}
	for _, r := range locatedRels {
		if r.Type != types.RelLocatedIn {
			continue
		}
		e, err := d.Store.GetCurrent(ctx, r.FromEntityID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return errResult("get_automations_in_room", types.WrapStorage("get_automations_in_room", err))
		}
		if e.Type == types.EntityAutomation && !seen[e.ID] {
			seen[e.ID] = true
			automations = append(automations, *e)
		}
	}

	// TRIGGERED_BY: automation -> device located in the room.
	devicesResult := d.getDevicesInRoom(ctx, mustMarshal(getDevicesInRoomArgs{RoomID: args.RoomID}))
	if !devicesResult.Success {
		return devicesResult
	}
	devices, _ := devicesResult.Result.([]types.Entity)
	for _, dev := range devices {
		triggerRels, err := d.Store.RelationshipsTo(ctx, dev.ID)
		if err != nil {
			return errResult("get_automations_in_room", types.WrapStorage("get_automations_in_room", err))
		}
		for _, r := range triggerRels {
			if r.Type != types.RelTriggeredBy {
				continue
			}
			e, err := d.Store.GetCurrent(ctx, r.FromEntityID)
			if err != nil {
				if errors.Is(err, types.ErrNotFound) {
					continue
				}
				return errResult("get_automations_in_room", types.WrapStorage("get_automations_in_room", err))
			}
			if e.Type == types.EntityAutomation && !seen[e.ID] {
				seen[e.ID] = true
				automations = append(automations, *e)
			}
		}
	}

	sortEntitiesByID(automations)
	return okResult(automations)
}

// --- update_entity ---

type updateEntityArgs struct {
	EntityID string        `json:"entity_id"`
	Changes  types.Content `json:"changes"`
	UserID   string        `json:"user_id"`
}

func (d *Dispatcher) updateEntity(ctx context.Context, raw json.RawMessage) Result {
	var args updateEntityArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errResult("update_entity", err)
	}
	if args.UserID == "" {
		return errResult("update_entity", fmt.Errorf("user_id is required"))
	}

	cur, err := d.Store.GetCurrent(ctx, args.EntityID)
	if err != nil {
		return errResult("update_entity", types.WrapStorage("update_entity", err))
	}

	now := timeNow()
	merged := make(types.Content, len(cur.Content)+len(args.Changes))
	for k, v := range cur.Content {
		merged[k] = v
	}
	for k, v := range args.Changes {
		merged[k] = v
	}

	next := types.Entity{
		ID:             cur.ID,
		Version:        types.NewVersion(now, args.UserID),
		Type:           cur.Type,
		Name:           cur.Name,
		Content:        merged,
		ParentVersions: []string{cur.Version},
		UserID:         args.UserID,
		SourceType:     cur.SourceType,
		CreatedAt:      cur.CreatedAt,
		UpdatedAt:      now,
	}
	if err := next.Validate(); err != nil {
		return errResult("update_entity", types.NewError(types.KindSchemaError, "update_entity", err))
	}

	rec := types.FromEntity(next, types.ChangeUpdate, cur.Version, d.NodeID)
	if _, err := d.Store.ApplyVersioned(ctx, next, cur.Version, rec); err != nil {
		return errResult("update_entity", types.WrapStorage("update_entity", err))
	}
	if d.Index != nil {
		d.Index.ApplyEntity(next)
	}
	if d.Queue != nil {
		if err := d.Queue.Enqueue(ctx, rec); err != nil {
			return errResult("update_entity", fmt.Errorf("enqueue for sync: %w", err))
		}
	}
	return okResult(next)
}

func sortEntitiesByID(es []types.Entity) {
	sort.Slice(es, func(i, j int) bool { return es[i].ID < es[j].ID })
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
