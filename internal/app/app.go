package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/anycrawl/anycrawl-mcp-server/internal/config"
	"github.com/anycrawl/anycrawl-mcp-server/internal/gateway"
	"github.com/anycrawl/anycrawl-mcp-server/internal/mcp"
	"github.com/anycrawl/anycrawl-mcp-server/internal/protocol"
	"github.com/anycrawl/anycrawl-mcp-server/internal/session"
	"github.com/anycrawl/anycrawl-mcp-server/internal/tools"
	"github.com/anycrawl/anycrawl-mcp-server/internal/upstream"
	"github.com/anycrawl/anycrawl-mcp-server/internal/version"
)

const shutdownTimeout = 10 * time.Second

// NewToolbox builds the AnyCrawl tool catalog in advertised order.
func NewToolbox(client tools.Caller) (*mcp.Toolbox, error) {
	return mcp.NewToolbox(
		// Crawl jobs
		tools.CrawlURL(client),
		tools.Search(client),
		tools.CrawlStatus(client),

		// Single page
		tools.ScrapeURL(client),

		// Job results and control
		tools.CrawlResults(client),
		tools.CrawlCancel(client),

		// Account listings
		tools.ListScheduledTasks(client),
		tools.ListWebhooks(client),
	)
}

// NewMCPServer constructs the dispatcher around the shared toolbox.
func NewMCPServer(client tools.Caller, logger *logrus.Entry) (*mcp.Server, error) {
	tb, err := NewToolbox(client)
	if err != nil {
		return nil, err
	}
	info := protocol.Implementation{Name: version.Name, Version: version.Get().Version}
	return mcp.NewServer(tb, info, logger), nil
}

// New wires the upstream client, dispatcher and gateway from cfg.
func New(cfg *config.Config, logger *logrus.Entry) (*gateway.Gateway, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	client := upstream.NewClient(cfg.Upstream.URL, cfg.Upstream.APIKey, cfg.Upstream.Timeout, logger.WithField("component", "upstream"))
	server, err := NewMCPServer(client, logger.WithField("component", "mcp"))
	if err != nil {
		return nil, err
	}

	opts := gateway.Options{
		SSEPath:      cfg.Server.SSEPath,
		MessagesPath: cfg.Server.MessagesPath,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		CORSOrigins:  cfg.Server.CORSOrigins,
		Stream: session.Options{
			QueueSize:   cfg.Sessions.QueueSize,
			MaxInFlight: cfg.Sessions.MaxInFlight,
			KeepAlive:   cfg.Sessions.KeepAlive,
		},
	}
	return gateway.New(server, session.NewRegistry(), opts, logger), nil
}

// Run serves the gateway on cfg's address until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, logger *logrus.Entry) error {
	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return err
	}
	return Serve(ctx, ln, cfg, logger)
}

// Serve is Run on an existing listener.
func Serve(ctx context.Context, ln net.Listener, cfg *config.Config, logger *logrus.Entry) error {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	gw, err := New(cfg, logger)
	if err != nil {
		_ = ln.Close()
		return err
	}

	// No WriteTimeout: streams stay open for the lifetime of a client.
	srv := &http.Server{
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithFields(logrus.Fields{
			"addr":     ln.Addr().String(),
			"upstream": cfg.Upstream.URL,
			"sse":      cfg.Server.SSEPath,
			"messages": cfg.Server.MessagesPath,
		}).Info("AnyCrawl MCP server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		gw.CloseSessions()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logger.Info("server stopped")
		return nil
	})
	return g.Wait()
}
