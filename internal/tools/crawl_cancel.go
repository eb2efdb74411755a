package tools

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/anycrawl/anycrawl-mcp-server/internal/protocol"
)

type crawlCancelTool struct {
	client Caller
}

// CrawlCancel constructs the tool that cancels an active crawl job.
func CrawlCancel(client Caller) *crawlCancelTool {
	return &crawlCancelTool{client: client}
}

func (t *crawlCancelTool) Descriptor() protocol.ToolDescriptor {
	return protocol.ToolDescriptor{
		Name:        "crawl_cancel",
		Description: "Cancel an active crawl job.",
		InputSchema: jobIDSchema("Job ID"),
	}
}

func (t *crawlCancelTool) Invoke(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args jobArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := requireString("id", args.ID); err != nil {
		return nil, err
	}
	return t.client.Do(ctx, http.MethodDelete, jobPath(args.ID, ""), nil, nil)
}
