package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anycrawl/anycrawl-mcp-server/internal/app"
	"github.com/anycrawl/anycrawl-mcp-server/internal/config"
	"github.com/anycrawl/anycrawl-mcp-server/internal/protocol"
	"github.com/anycrawl/anycrawl-mcp-server/internal/version"
)

func newGateway(t *testing.T) *Client {
	t.Helper()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/crawl/missing/status" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"job not found"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"job_id":"job-1"}}`))
	}))
	t.Cleanup(up.Close)

	cfg := config.Default()
	cfg.Upstream.URL = up.URL
	gw, err := app.New(cfg, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return New(srv.URL+"/messages/", 5*time.Second)
}

func TestInitializeAndPing(t *testing.T) {
	c := newGateway(t)
	ctx := context.Background()

	res, err := c.Initialize(ctx, protocol.Implementation{Name: "probe", Version: "test"})
	require.NoError(t, err)
	assert.Equal(t, version.Name, res.ServerInfo.Name)
	assert.Equal(t, "2024-11-05", res.ProtocolVersion)

	assert.NoError(t, c.Ping(ctx))
}

func TestListAndCallTools(t *testing.T) {
	c := newGateway(t)
	ctx := context.Background()

	list, err := c.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, list, 8)
	assert.Equal(t, "crawl_url", list[0].Name)

	res, err := c.CallTool(ctx, "crawl_url", map[string]any{"url": "https://example.com"})
	require.NoError(t, err)
	require.False(t, res.IsError)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].Text), &payload))
	assert.Equal(t, true, payload["success"])

	res, err = c.CallTool(ctx, "crawl_status", map[string]any{"id": "missing"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "404")

	res, err = c.CallTool(ctx, "crawl_url", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestProtocolErrorIsReturned(t *testing.T) {
	c := newGateway(t)

	_, err := c.CallTool(context.Background(), "", nil)
	require.Error(t, err)
	var rpcErr *protocol.ResponseError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, protocol.CodeInvalidParams, rpcErr.Code)
}

func TestUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url+"/messages", time.Second).ListTools(context.Background())
	assert.Error(t, err)
}
