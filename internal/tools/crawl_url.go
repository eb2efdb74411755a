package tools

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/anycrawl/anycrawl-mcp-server/internal/protocol"
)

// crawlURLTool submits a crawl job for a single URL.
type crawlURLTool struct {
	client Caller
}

// CrawlURL constructs the tool.
func CrawlURL(client Caller) *crawlURLTool {
	return &crawlURLTool{client: client}
}

func (t *crawlURLTool) Descriptor() protocol.ToolDescriptor {
	return protocol.ToolDescriptor{
		Name:        "crawl_url",
		Description: "Crawl a single URL and return the content (markdown/html).",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"url": stringProp("The URL to crawl"),
		}, "url"),
	}
}

type crawlURLArgs struct {
	URL string `json:"url"`
}

func (t *crawlURLTool) Invoke(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args crawlURLArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := requireString("url", args.URL); err != nil {
		return nil, err
	}
	return t.client.Do(ctx, http.MethodPost, "/v1/crawl", nil, map[string]any{"url": args.URL})
}
