package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/anycrawl/anycrawl-mcp-server/internal/protocol"
	"github.com/anycrawl/anycrawl-mcp-server/internal/tools"
	"github.com/anycrawl/anycrawl-mcp-server/internal/upstream"
)

// DefaultProtocolVersion is advertised when the client asks for a version
// this server does not know.
const DefaultProtocolVersion = "2024-11-05"

var supportedProtocolVersions = map[string]bool{
	"2024-11-05": true,
	"2025-03-26": true,
	"2025-06-18": true,
}

type methodHandler func(ctx context.Context, req protocol.Request) (any, *protocol.ResponseError)

// Server maps protocol methods onto the toolbox. Every call is independent;
// it holds no per-client state and serves streaming and stateless clients alike.
type Server struct {
	toolbox *Toolbox
	info    protocol.Implementation
	logger  *logrus.Entry
	methods map[string]methodHandler
}

// NewServer wires a toolbox into an MCP server.
func NewServer(tb *Toolbox, info protocol.Implementation, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{toolbox: tb, info: info, logger: logger}
	s.methods = map[string]methodHandler{
		"initialize": s.initialize,
		"ping":       s.ping,
		"tools/list": s.listTools,
		"tools/call": s.callTool,
	}
	return s
}

// Handle routes a single request. The boolean is false for notifications,
// which never receive a response.
func (s *Server) Handle(ctx context.Context, req protocol.Request) (protocol.Response, bool) {
	if req.IsNotification() {
		s.acceptNotification(req)
		return protocol.Response{}, false
	}
	if req.JSONRPC != "" && req.JSONRPC != protocol.JSONRPCVersion {
		return protocol.NewError(req.ID, protocol.CodeInvalidRequest, "invalid jsonrpc version"), true
	}
	if req.Method == "" {
		return protocol.NewError(req.ID, protocol.CodeInvalidRequest, "method required"), true
	}

	handler, ok := s.methods[req.Method]
	if !ok {
		return protocol.NewError(req.ID, protocol.CodeMethodNotFound, "method not found: "+req.Method), true
	}
	result, rpcErr := handler(ctx, req)
	if rpcErr != nil {
		return protocol.Response{JSONRPC: protocol.JSONRPCVersion, ID: req.ID, Error: rpcErr}, true
	}
	return protocol.NewResult(req.ID, result), true
}

func (s *Server) acceptNotification(req protocol.Request) {
	if strings.HasPrefix(req.Method, "notifications/") {
		s.logger.WithField("method", req.Method).Debug("accepted notification")
		return
	}
	s.logger.WithField("method", req.Method).Warn("ignoring id-less request for non-notification method")
}

func (s *Server) initialize(_ context.Context, req protocol.Request) (any, *protocol.ResponseError) {
	version := DefaultProtocolVersion
	if len(req.Params) > 0 {
		var params protocol.InitializeParams
		if err := json.Unmarshal(req.Params, &params); err == nil && supportedProtocolVersions[params.ProtocolVersion] {
			version = params.ProtocolVersion
		}
	}
	return protocol.InitializeResult{
		ProtocolVersion: version,
		Capabilities: map[string]any{
			"tools": map[string]any{},
		},
		ServerInfo: s.info,
	}, nil
}

func (s *Server) ping(context.Context, protocol.Request) (any, *protocol.ResponseError) {
	return map[string]any{}, nil
}

func (s *Server) listTools(context.Context, protocol.Request) (any, *protocol.ResponseError) {
	return protocol.ListResult{Tools: s.toolbox.Describe()}, nil
}

func (s *Server) callTool(ctx context.Context, req protocol.Request) (any, *protocol.ResponseError) {
	var params protocol.CallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, &protocol.ResponseError{Code: protocol.CodeInvalidParams, Message: "invalid params"}
	}
	if params.Name == "" {
		return nil, &protocol.ResponseError{Code: protocol.CodeInvalidParams, Message: "tool name required"}
	}

	log := s.logger.WithField("tool", params.Name)
	out, err := s.toolbox.Call(ctx, params.Name, params.Args)
	if err != nil {
		logToolFailure(log, err)
		return protocol.ErrorResult("Error: " + err.Error()), nil
	}
	log.Debug("tool call succeeded")
	return protocol.TextResult(formatPayload(out)), nil
}

func logToolFailure(log *logrus.Entry, err error) {
	var upErr *upstream.Error
	switch {
	case errors.Is(err, ErrUnknownTool), errors.Is(err, tools.ErrInvalidArguments):
		log.WithError(err).Info("tool call rejected")
	case errors.As(err, &upErr):
		log.WithError(err).WithField("status", upErr.StatusCode).Warn("upstream call failed")
	default:
		log.WithError(err).Error("tool call failed")
	}
}

// formatPayload renders the upstream body as indented JSON. Bodies that are
// not JSON are wrapped in a JSON string so the text always parses.
func formatPayload(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		var buf bytes.Buffer
		if err := json.Indent(&buf, trimmed, "", "  "); err == nil {
			return buf.String()
		}
	}
	quoted, _ := json.Marshal(string(raw))
	return string(quoted)
}
