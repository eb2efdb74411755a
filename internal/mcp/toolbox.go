package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/anycrawl/anycrawl-mcp-server/internal/protocol"
	"github.com/anycrawl/anycrawl-mcp-server/internal/tools"
)

// ErrUnknownTool is returned by Call for names outside the catalog.
var ErrUnknownTool = errors.New("unknown tool")

// Tool defines the behavior of a single MCP tool.
type Tool interface {
	Descriptor() protocol.ToolDescriptor
	Invoke(ctx context.Context, raw json.RawMessage) (json.RawMessage, error)
}

type toolEntry struct {
	tool   Tool
	schema *jsonschema.Resolved
}

// Toolbox is the process-wide tool catalog. It is built once and never
// mutated, so it is shared by every session without locking.
type Toolbox struct {
	descriptors []protocol.ToolDescriptor
	tools       map[string]toolEntry
}

// NewToolbox constructs a toolbox with the provided tools, keeping their
// order for listing. Tool names must be unique and schemas must resolve.
func NewToolbox(list ...Tool) (*Toolbox, error) {
	tb := &Toolbox{
		descriptors: make([]protocol.ToolDescriptor, 0, len(list)),
		tools:       make(map[string]toolEntry, len(list)),
	}
	for _, t := range list {
		desc := t.Descriptor()
		if desc.Name == "" {
			return nil, errors.New("tool with empty name")
		}
		if _, dup := tb.tools[desc.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", desc.Name)
		}
		entry := toolEntry{tool: t}
		if desc.InputSchema != nil {
			resolved, err := desc.InputSchema.Resolve(nil)
			if err != nil {
				return nil, fmt.Errorf("resolve schema for %q: %w", desc.Name, err)
			}
			entry.schema = resolved
		}
		tb.tools[desc.Name] = entry
		tb.descriptors = append(tb.descriptors, desc)
	}
	return tb, nil
}

// Describe returns all tool descriptors in registration order.
func (tb *Toolbox) Describe() []protocol.ToolDescriptor {
	out := make([]protocol.ToolDescriptor, len(tb.descriptors))
	copy(out, tb.descriptors)
	return out
}

// Len reports the catalog size.
func (tb *Toolbox) Len() int {
	return len(tb.descriptors)
}

// Call validates args against the tool's schema and invokes it.
func (tb *Toolbox) Call(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	entry, ok := tb.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if entry.schema != nil {
		if err := validateArgs(entry.schema, args); err != nil {
			return nil, err
		}
	}
	return entry.tool.Invoke(ctx, args)
}

func validateArgs(schema *jsonschema.Resolved, raw json.RawMessage) error {
	var instance any = map[string]any{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &instance); err != nil {
			return &tools.ArgumentError{Reason: err.Error()}
		}
	}
	if err := schema.Validate(instance); err != nil {
		return &tools.ArgumentError{Reason: err.Error()}
	}
	return nil
}
