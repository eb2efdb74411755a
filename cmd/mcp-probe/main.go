package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/anycrawl/anycrawl-mcp-server/internal/logging"
	"github.com/anycrawl/anycrawl-mcp-server/internal/mcpclient"
	"github.com/anycrawl/anycrawl-mcp-server/internal/protocol"
	"github.com/anycrawl/anycrawl-mcp-server/internal/version"
)

func main() {
	_ = godotenv.Load()

	endpoint := flag.String("url", envOr("MCP_PROBE_URL", "http://localhost:8889/messages"), "gateway messages endpoint")
	tool := flag.String("call", "", "tool to call; lists tools when empty")
	rawArgs := flag.String("args", "{}", "tool arguments as a JSON object")
	timeout := flag.Duration("timeout", 60*time.Second, "request timeout")
	flag.Parse()

	log, cleanup, err := logging.New("mcp-probe", logging.Options{Level: envOr("LOG_LEVEL", "warn")})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := mcpclient.New(*endpoint, *timeout)
	info, err := client.Initialize(ctx, protocol.Implementation{Name: "mcp-probe", Version: version.Get().Version})
	if err != nil {
		log.WithError(err).Error("initialize failed")
		os.Exit(1)
	}
	log.WithField("server", info.ServerInfo.Name).WithField("protocol", info.ProtocolVersion).Info("connected")

	if *tool == "" {
		tools, err := client.ListTools(ctx)
		if err != nil {
			log.WithError(err).Error("tools/list failed")
			os.Exit(1)
		}
		for _, t := range tools {
			fmt.Printf("%-22s %s\n", t.Name, firstLine(t.Description))
		}
		return
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(*rawArgs), &args); err != nil {
		fmt.Fprintf(os.Stderr, "error: -args must be a JSON object: %v\n", err)
		os.Exit(2)
	}
	res, err := client.CallTool(ctx, *tool, args)
	if err != nil {
		log.WithError(err).WithField("tool", *tool).Error("tools/call failed")
		os.Exit(1)
	}
	for _, part := range res.Content {
		fmt.Println(part.Text)
	}
	if res.IsError {
		os.Exit(1)
	}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
