// Package dispatcher implements the fixed twelve-tool catalog every
// caller — the HTTP API, a local MCP stdio server, or a client replica
// running against its own store — routes through identically. Dispatch
// is transport-neutral: it takes a tool name and raw JSON arguments and
// returns a uniform {success, result|error} shape, the same contract an
// MCP tool call and a plain HTTP handler can both sit on top of.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/inbetweenies/graphsync/internal/graphindex"
	"github.com/inbetweenies/graphsync/internal/storage"
	"github.com/inbetweenies/graphsync/internal/types"
)

// timeNow exists so tests can stamp deterministic versions.
var timeNow = time.Now

// ToolName is one of the twelve fixed dispatcher operations.
type ToolName string

const (
	ToolGetDevicesInRoom      ToolName = "get_devices_in_room"
	ToolFindDeviceControls    ToolName = "find_device_controls"
	ToolGetRoomConnections    ToolName = "get_room_connections"
	ToolSearchEntities        ToolName = "search_entities"
	ToolCreateEntity          ToolName = "create_entity"
	ToolCreateRelationship    ToolName = "create_relationship"
	ToolFindPath              ToolName = "find_path"
	ToolGetEntityDetails      ToolName = "get_entity_details"
	ToolFindSimilarEntities   ToolName = "find_similar_entities"
	ToolGetProceduresForDevice ToolName = "get_procedures_for_device"
	ToolGetAutomationsInRoom  ToolName = "get_automations_in_room"
	ToolUpdateEntity          ToolName = "update_entity"
)

// Names lists the fixed catalog in table order; the MCP registration
// adapter pairs it index by index with its tool schemas.
var Names = []ToolName{
	ToolGetDevicesInRoom, ToolFindDeviceControls, ToolGetRoomConnections,
	ToolSearchEntities, ToolCreateEntity, ToolCreateRelationship,
	ToolFindPath, ToolGetEntityDetails, ToolFindSimilarEntities,
	ToolGetProceduresForDevice, ToolGetAutomationsInRoom, ToolUpdateEntity,
}

// Result is the uniform shape every dispatched call returns.
type Result struct {
	Success bool            `json:"success"`
	Result  any             `json:"result,omitempty"`
	Error   *types.GraphError `json:"error,omitempty"`
}

// errResult converts err into a failed Result, wrapping it as a
// GraphError if it isn't already one.
func errResult(op string, err error) Result {
	ge, ok := err.(*types.GraphError)
	if !ok {
		ge = types.NewError(types.KindSchemaError, op, err)
	}
	return Result{Success: false, Error: ge}
}

func okResult(v any) Result {
	return Result{Success: true, Result: v}
}

// OutboundQueue receives the change records of the dispatcher's entity
// writes (create_entity, update_entity) so they flow through the sync
// queue like any other local write, on both the server and a
// client-side replica. create_relationship writes only to the store and
// is not queued.
type OutboundQueue interface {
	Enqueue(ctx context.Context, c types.ChangeRecord) error
}

// Dispatcher routes a fixed set of named tool calls to the Entity
// Store and Graph Index. The same Dispatcher runs against the server's
// store or a client's local replica store interchangeably.
type Dispatcher struct {
	Store    storage.Storage
	Index    *graphindex.Index
	NodeID   string
	Queue    OutboundQueue
	NewID    func() string
	NewRelID func() string
}

// New builds a Dispatcher. NodeID tags the origin_node_id of any
// change this dispatcher produces.
func New(store storage.Storage, idx *graphindex.Index, nodeID string, queue OutboundQueue) *Dispatcher {
	return &Dispatcher{
		Store:    store,
		Index:    idx,
		NodeID:   nodeID,
		Queue:    queue,
		NewID:    types.NewEntityID,
		NewRelID: types.NewRelationshipID,
	}
}

// Dispatch validates args against the named tool's argument schema,
// routes to the corresponding graph operation, and always returns a
// Result — dispatch-level failures (unknown tool, bad JSON, a graph
// operation's own error) are reported as Result.Error, never as a Go
// error, so callers never have to special-case the transport layer.
func (d *Dispatcher) Dispatch(ctx context.Context, name ToolName, args json.RawMessage) Result {
	switch name {
	case ToolGetDevicesInRoom:
		return d.getDevicesInRoom(ctx, args)
	case ToolFindDeviceControls:
		return d.findDeviceControls(ctx, args)
	case ToolGetRoomConnections:
		return d.getRoomConnections(ctx, args)
	case ToolSearchEntities:
		return d.searchEntities(ctx, args)
	case ToolCreateEntity:
		return d.createEntity(ctx, args)
	case ToolCreateRelationship:
		return d.createRelationship(ctx, args)
	case ToolFindPath:
		return d.findPath(ctx, args)
	case ToolGetEntityDetails:
		return d.getEntityDetails(ctx, args)
	case ToolFindSimilarEntities:
		return d.findSimilarEntities(ctx, args)
	case ToolGetProceduresForDevice:
		return d.getProceduresForDevice(ctx, args)
	case ToolGetAutomationsInRoom:
		return d.getAutomationsInRoom(ctx, args)
	case ToolUpdateEntity:
		return d.updateEntity(ctx, args)
	default:
		return errResult("dispatch", fmt.Errorf("unknown tool %q", name))
	}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing arguments")
	}
	return json.Unmarshal(raw, v)
}
