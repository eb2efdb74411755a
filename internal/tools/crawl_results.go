package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/anycrawl/anycrawl-mcp-server/internal/protocol"
)

type crawlResultsTool struct {
	client Caller
}

// CrawlResults constructs the tool that pages through a finished crawl.
func CrawlResults(client Caller) *crawlResultsTool {
	return &crawlResultsTool{client: client}
}

func (t *crawlResultsTool) Descriptor() protocol.ToolDescriptor {
	return protocol.ToolDescriptor{
		Name:        "crawl_results",
		Description: "Fetch the results of a completed crawl job.",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"id":   stringProp("Job ID"),
			"skip": numberProp("Number of results to skip (pagination)"),
		}, "id"),
	}
}

type crawlResultsArgs struct {
	ID   string  `json:"id"`
	Skip float64 `json:"skip"`
}

func (t *crawlResultsTool) Invoke(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args crawlResultsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := requireString("id", args.ID); err != nil {
		return nil, err
	}
	if args.Skip < 0 {
		return nil, &ArgumentError{Field: "skip", Reason: "must not be negative"}
	}
	query := url.Values{"skip": {strconv.Itoa(int(args.Skip))}}
	return t.client.Do(ctx, http.MethodGet, jobPath(args.ID, ""), query, nil)
}
