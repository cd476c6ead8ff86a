package dispatcher

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// toolSchemas describes each tool's mcp.Tool definition: name,
// description, and argument schema. Registered on an *server.MCPServer
// so the same twelve operations are reachable over stdio or SSE from an
// MCP client, with every call forwarded to Dispatch unchanged.
var toolSchemas = []mcp.Tool{
	mcp.NewTool(string(ToolGetDevicesInRoom),
		mcp.WithDescription("List device entities located in a room"),
		mcp.WithString("room_id", mcp.Required())),
	mcp.NewTool(string(ToolFindDeviceControls),
		mcp.WithDescription("List CONTROLS/CONTROLLED_BY_APP relationships pointing at a device"),
		mcp.WithString("device_id", mcp.Required())),
	mcp.NewTool(string(ToolGetRoomConnections),
		mcp.WithDescription("List rooms connected to a room via a door, window, or direct connection"),
		mcp.WithString("room_id", mcp.Required())),
	mcp.NewTool(string(ToolSearchEntities),
		mcp.WithDescription("Rank entities by token overlap with a free-text query"),
		mcp.WithString("query", mcp.Required()),
		mcp.WithArray("entity_types"),
		mcp.WithNumber("limit")),
	mcp.NewTool(string(ToolCreateEntity),
		mcp.WithDescription("Create a new entity's genesis version"),
		mcp.WithString("type", mcp.Required()),
		mcp.WithString("name"),
		mcp.WithObject("content"),
		mcp.WithString("user_id", mcp.Required())),
	mcp.NewTool(string(ToolCreateRelationship),
		mcp.WithDescription("Create a new relationship edge"),
		mcp.WithString("from_id", mcp.Required()),
		mcp.WithString("to_id", mcp.Required()),
		mcp.WithString("type", mcp.Required()),
		mcp.WithObject("properties"),
		mcp.WithString("user_id", mcp.Required())),
	mcp.NewTool(string(ToolFindPath),
		mcp.WithDescription("Find the shortest path between two entities"),
		mcp.WithString("from_id", mcp.Required()),
		mcp.WithString("to_id", mcp.Required())),
	mcp.NewTool(string(ToolGetEntityDetails),
		mcp.WithDescription("Fetch an entity's current version plus all its relationships"),
		mcp.WithString("entity_id", mcp.Required())),
	mcp.NewTool(string(ToolFindSimilarEntities),
		mcp.WithDescription("Rank entities by Jaccard similarity to a given entity"),
		mcp.WithString("entity_id", mcp.Required()),
		mcp.WithNumber("threshold")),
	mcp.NewTool(string(ToolGetProceduresForDevice),
		mcp.WithDescription("List PROCEDURE entities linked to a device via PROCEDURE_FOR"),
		mcp.WithString("device_id", mcp.Required())),
	mcp.NewTool(string(ToolGetAutomationsInRoom),
		mcp.WithDescription("List AUTOMATION entities located in, or triggered by a device in, a room"),
		mcp.WithString("room_id", mcp.Required())),
	mcp.NewTool(string(ToolUpdateEntity),
		mcp.WithDescription("Write a new version of an entity with the prior current version as parent"),
		mcp.WithString("entity_id", mcp.Required()),
		mcp.WithObject("changes", mcp.Required()),
		mcp.WithString("user_id", mcp.Required())),
}

// Register adds all twelve tools to srv, each handler forwarding its
// arguments to d.Dispatch and translating Result into an MCP tool
// result: success produces a JSON text content block, failure an MCP
// error result carrying the GraphError's message.
func Register(srv *server.MCPServer, d *Dispatcher) {
	for i, name := range Names {
		schema := toolSchemas[i]
		toolName := name
		srv.AddTool(schema, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args, err := json.Marshal(req.Params.Arguments)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			res := d.Dispatch(ctx, toolName, args)
			if !res.Success {
				return mcp.NewToolResultError(res.Error.Error()), nil
			}
			payload, err := json.Marshal(res.Result)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText(string(payload)), nil
		})
	}
}
