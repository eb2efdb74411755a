package tools

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/anycrawl/anycrawl-mcp-server/internal/protocol"
)

type crawlStatusTool struct {
	client Caller
}

// CrawlStatus constructs the crawl job status tool.
func CrawlStatus(client Caller) *crawlStatusTool {
	return &crawlStatusTool{client: client}
}

func (t *crawlStatusTool) Descriptor() protocol.ToolDescriptor {
	return protocol.ToolDescriptor{
		Name:        "crawl_status",
		Description: "Check the status of a crawl job.",
		InputSchema: jobIDSchema("Job ID returned by crawl_url"),
	}
}

func (t *crawlStatusTool) Invoke(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args jobArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := requireString("id", args.ID); err != nil {
		return nil, err
	}
	return t.client.Do(ctx, http.MethodGet, jobPath(args.ID, "/status"), nil, nil)
}
