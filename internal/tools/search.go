package tools

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/anycrawl/anycrawl-mcp-server/internal/protocol"
)

// defaultSearchLimit applies when the caller omits limit or passes zero.
const defaultSearchLimit = 5

type searchTool struct {
	client Caller
}

// Search constructs the web search tool.
func Search(client Caller) *searchTool {
	return &searchTool{client: client}
}

func (t *searchTool) Descriptor() protocol.ToolDescriptor {
	return protocol.ToolDescriptor{
		Name:        "search",
		Description: "Search the web using AnyCrawl's integrated search engine (SearXNG).",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"query": stringProp("Search query"),
			"limit": numberProp("Number of results (default 5)"),
		}, "query"),
	}
}

type searchArgs struct {
	Query string  `json:"query"`
	Limit float64 `json:"limit"`
}

func (t *searchTool) Invoke(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args searchArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := requireString("query", args.Query); err != nil {
		return nil, err
	}
	if args.Limit < 0 {
		return nil, &ArgumentError{Field: "limit", Reason: "must not be negative"}
	}
	limit := int(args.Limit)
	if limit == 0 {
		limit = defaultSearchLimit
	}
	return t.client.Do(ctx, http.MethodPost, "/v1/search", nil, map[string]any{
		"query": args.Query,
		"limit": limit,
	})
}
