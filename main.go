package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/anycrawl/anycrawl-mcp-server/internal/app"
	"github.com/anycrawl/anycrawl-mcp-server/internal/config"
	"github.com/anycrawl/anycrawl-mcp-server/internal/logging"
	"github.com/anycrawl/anycrawl-mcp-server/internal/version"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", envOr("ANYCRAWL_MCP_CONFIG", ""), "path to YAML config file")
	port := flag.Int("port", 0, "listen port (overrides PORT and config)")
	apiURL := flag.String("api-url", "", "AnyCrawl API base URL (overrides ANYCRAWL_API_URL)")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		info := version.Get()
		fmt.Printf("%s %s (commit %s, built %s)\n", info.Name, info.Version, info.Commit, info.BuildDate)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *apiURL != "" {
		cfg.Upstream.URL = *apiURL
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, cleanup, err := logging.New("mcp-server", logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Dir:    cfg.Logging.Dir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	if cfg.Upstream.APIKey == "" {
		logger.Warn("ANYCRAWL_API_KEY is not set; upstream calls will be unauthenticated")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("MCP server error")
		cleanup()
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
