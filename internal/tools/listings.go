package tools

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/anycrawl/anycrawl-mcp-server/internal/protocol"
)

// listTool is an argument-free GET against a fixed listing route.
type listTool struct {
	client      Caller
	name        string
	description string
	path        string
}

// ListScheduledTasks lists scheduled automation tasks.
func ListScheduledTasks(client Caller) *listTool {
	return &listTool{
		client:      client,
		name:        "list_scheduled_tasks",
		description: "List all scheduled automation tasks.",
		path:        "/v1/scheduled-tasks",
	}
}

// ListWebhooks lists webhook subscriptions.
func ListWebhooks(client Caller) *listTool {
	return &listTool{
		client:      client,
		name:        "list_webhooks",
		description: "List all configured webhook subscriptions.",
		path:        "/v1/webhooks",
	}
}

func (t *listTool) Descriptor() protocol.ToolDescriptor {
	return protocol.ToolDescriptor{
		Name:        t.name,
		Description: t.description,
		InputSchema: objectSchema(map[string]*jsonschema.Schema{}),
	}
}

func (t *listTool) Invoke(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	return t.client.Do(ctx, http.MethodGet, t.path, nil, nil)
}
