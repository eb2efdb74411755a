package tools

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/anycrawl/anycrawl-mcp-server/internal/protocol"
)

const (
	engineBrowser = "playwright"
	engineStatic  = "cheerio"
)

// scrapeURLTool scrapes one page synchronously, optionally with AI
// extraction and a screenshot.
type scrapeURLTool struct {
	client Caller
}

// ScrapeURL constructs the tool.
func ScrapeURL(client Caller) *scrapeURLTool {
	return &scrapeURLTool{client: client}
}

func (t *scrapeURLTool) Descriptor() protocol.ToolDescriptor {
	return protocol.ToolDescriptor{
		Name:        "scrape_url",
		Description: "Scrape a single URL synchronously with optional AI extraction and screenshots.",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"url": stringProp("The URL to scrape"),
			"engine": {
				Type:        "string",
				Enum:        []any{engineBrowser, engineStatic},
				Description: "Scraping engine to use",
			},
			"json_options": {
				Type:        "object",
				Description: `AI extraction schema. Example: { "product_name": "string", "price": "number" }`,
			},
			"screenshot": {Type: "boolean", Description: "Whether to capture a screenshot"},
		}, "url"),
	}
}

type scrapeArgs struct {
	URL         string          `json:"url"`
	Engine      string          `json:"engine"`
	JSONOptions json.RawMessage `json:"json_options"`
	Screenshot  bool            `json:"screenshot"`
}

type scrapeOptions struct {
	JSONOptions json.RawMessage `json:"json_options,omitempty"`
	Formats     []string        `json:"formats"`
}

type scrapePayload struct {
	URL     string        `json:"url"`
	Engine  string        `json:"engine"`
	Options scrapeOptions `json:"options"`
}

func (t *scrapeURLTool) Invoke(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args scrapeArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := requireString("url", args.URL); err != nil {
		return nil, err
	}
	return t.client.Do(ctx, http.MethodPost, "/v1/scrape", nil, buildScrapePayload(args))
}

func buildScrapePayload(args scrapeArgs) scrapePayload {
	engine := args.Engine
	if engine == "" {
		engine = engineBrowser
	}
	formats := []string{"html", "markdown"}
	if args.Screenshot {
		formats = append(formats, "screenshot")
	}
	opts := scrapeOptions{Formats: formats}
	if len(args.JSONOptions) > 0 && string(args.JSONOptions) != "null" {
		opts.JSONOptions = args.JSONOptions
	}
	return scrapePayload{URL: args.URL, Engine: engine, Options: opts}
}
