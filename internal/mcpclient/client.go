// Package mcpclient issues JSON-RPC calls to a running gateway over its
// stateless POST path.
package mcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/anycrawl/anycrawl-mcp-server/internal/protocol"
)

// Client posts requests to one messages endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	counter    atomic.Uint64
}

// New builds a client for endpoint, e.g. http://localhost:8889/messages.
// A zero timeout means 60 seconds.
func New(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) nextID() json.RawMessage {
	return json.RawMessage(strconv.FormatUint(c.counter.Add(1), 10))
}

func (c *Client) do(ctx context.Context, method string, params any, out any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	buf, err := json.Marshal(protocol.Request{
		JSONRPC: protocol.JSONRPCVersion,
		ID:      c.nextID(),
		Method:  method,
		Params:  raw,
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("build http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call mcp server: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var resp struct {
		Result json.RawMessage         `json:"result"`
		Error  *protocol.ResponseError `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("mcp server returned status %d: %w", httpResp.StatusCode, err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("mcp server returned status %d", httpResp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// Initialize performs the handshake and returns the server's answer.
func (c *Client) Initialize(ctx context.Context, clientInfo protocol.Implementation) (protocol.InitializeResult, error) {
	var result protocol.InitializeResult
	params := map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo":      clientInfo,
	}
	err := c.do(ctx, "initialize", params, &result)
	return result, err
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", map[string]any{}, nil)
}

// ListTools fetches the advertised tools.
func (c *Client) ListTools(ctx context.Context) ([]protocol.ToolDescriptor, error) {
	var result protocol.ListResult
	if err := c.do(ctx, "tools/list", map[string]any{}, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool invokes a tool and returns its result, flagged or not.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (protocol.CallResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	rawArgs, err := json.Marshal(args)
	if err != nil {
		return protocol.CallResult{}, fmt.Errorf("encode arguments: %w", err)
	}
	var result protocol.CallResult
	err = c.do(ctx, "tools/call", protocol.CallParams{Name: name, Args: rawArgs}, &result)
	return result, err
}
