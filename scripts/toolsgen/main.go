package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/anycrawl/anycrawl-mcp-server/internal/app"
	"github.com/anycrawl/anycrawl-mcp-server/internal/protocol"
	"github.com/anycrawl/anycrawl-mcp-server/internal/upstream"
	"github.com/anycrawl/anycrawl-mcp-server/internal/version"
)

// Options captures manifest generation settings.
type Options struct {
	OutputDir string
}

// Manifest is the catalog snapshot written to tools.json.
type Manifest struct {
	Server protocol.Implementation   `json:"server"`
	Tools  []protocol.ToolDescriptor `json:"tools"`
}

func main() {
	outDir := flag.String("output_dir", ".", "output directory for tools.json")
	flag.Parse()

	raw, err := Generate(Options{OutputDir: *outDir})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("tools manifest written to %s (%d bytes)\n", filepath.Join(*outDir, "tools.json"), len(raw))
}

// Generate writes tools.json and returns the bytes written.
func Generate(opts Options) ([]byte, error) {
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, err
	}

	// Descriptors never touch the upstream, so any base URL will do.
	tb, err := app.NewToolbox(upstream.NewClient("http://localhost", "", 0, nil))
	if err != nil {
		return nil, err
	}

	manifest := Manifest{
		Server: protocol.Implementation{Name: version.Name, Version: version.Get().Version},
		Tools:  tb.Describe(),
	}
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, err
	}
	raw = append(raw, '\n')

	if err := os.WriteFile(filepath.Join(opts.OutputDir, "tools.json"), raw, 0o644); err != nil {
		return nil, err
	}
	return raw, nil
}
