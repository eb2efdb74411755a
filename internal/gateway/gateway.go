package gateway

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anycrawl/anycrawl-mcp-server/internal/protocol"
	"github.com/anycrawl/anycrawl-mcp-server/internal/session"
	"github.com/anycrawl/anycrawl-mcp-server/internal/version"
)

// SessionParam is the query parameter that ties a post to a stream.
const SessionParam = "sessionId"

// DefaultMaxBodyBytes bounds posted message size.
const DefaultMaxBodyBytes = 1 << 20

// Options configure the HTTP surface.
type Options struct {
	// SSEPath opens streams on GET and accepts messages on POST. Defaults to "/sse".
	SSEPath string
	// MessagesPath accepts messages on POST. Defaults to "/messages".
	MessagesPath string
	// MaxBodyBytes bounds a posted body. Defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64
	// CORSOrigins lists allowed origins; empty reflects any origin.
	CORSOrigins []string
	// Stream tunes every stream opened through this gateway.
	Stream session.Options
}

func (o Options) withDefaults() Options {
	if o.SSEPath == "" {
		o.SSEPath = "/sse"
	}
	if o.MessagesPath == "" {
		o.MessagesPath = "/messages"
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return o
}

// Gateway routes every inbound post either to the stream that owns its
// session id or, when no live stream does, to the stateless handler.
type Gateway struct {
	dispatcher session.Dispatcher
	registry   *session.Registry
	stateless  *statelessHandler
	opts       Options
	logger     *logrus.Entry
	mux        *http.ServeMux
	handler    http.Handler
}

// New builds a gateway around a dispatcher and a session registry.
func New(d session.Dispatcher, registry *session.Registry, opts Options, logger *logrus.Entry) *Gateway {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if registry == nil {
		registry = session.NewRegistry()
	}
	opts = opts.withDefaults()
	g := &Gateway{
		dispatcher: d,
		registry:   registry,
		stateless:  &statelessHandler{dispatcher: d, logger: logger},
		opts:       opts,
		logger:     logger,
		mux:        http.NewServeMux(),
	}

	g.mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	g.mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, version.Get(), http.StatusOK)
	})
	g.mux.HandleFunc(opts.SSEPath, g.handleSSE)
	if opts.MessagesPath != opts.SSEPath {
		g.mux.HandleFunc(opts.MessagesPath, g.handleMessages)
	}

	g.handler = logRequests(logger, corsMiddleware(opts.CORSOrigins).Handler(g.mux))
	return g
}

// Handler exposes the full HTTP surface.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Registry exposes the session registry.
func (g *Gateway) Registry() *session.Registry {
	return g.registry
}

// CloseSessions ends every open stream so that their handlers return.
func (g *Gateway) CloseSessions() {
	g.registry.CloseAll()
}

func (g *Gateway) handleSSE(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g.openStream(w, r)
	case http.MethodPost:
		g.handleMessage(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	g.handleMessage(w, r)
}

func (g *Gateway) openStream(w http.ResponseWriter, r *http.Request) {
	sink, err := newSSEWriter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	stream := session.NewStream(g.dispatcher, g.opts.Stream, g.logger)
	if err := g.registry.Register(stream); err != nil {
		g.logger.WithError(err).Error("register session")
		http.Error(w, "could not open session", http.StatusInternalServerError)
		return
	}
	defer g.registry.Remove(stream.ID())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	log := g.logger.WithField("session_id", stream.ID())
	log.WithField("sessions", g.registry.Len()).Info("session opened")

	endpoint := g.opts.SSEPath + "?" + SessionParam + "=" + url.QueryEscape(stream.ID())
	err = stream.Serve(r.Context(), sink, endpoint)

	fields := logrus.Fields{"lifetime": time.Since(stream.CreatedAt()).Round(time.Millisecond)}
	if err != nil {
		log.WithFields(fields).WithError(err).Warn("session closed after write failure")
		return
	}
	log.WithFields(fields).Info("session closed")
}

func (g *Gateway) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, g.opts.MaxBodyBytes+1))
	if err != nil {
		writeJSON(w, protocol.NewError(nil, protocol.CodeParseError, "failed to read request body"), http.StatusBadRequest)
		return
	}
	if int64(len(body)) > g.opts.MaxBodyBytes {
		writeJSON(w, protocol.NewError(nil, protocol.CodeInvalidRequest, "request body too large"), http.StatusRequestEntityTooLarge)
		return
	}

	if id := r.URL.Query().Get(SessionParam); id != "" {
		if stream, ok := g.registry.Lookup(id); ok {
			if g.postToStream(w, stream, body) {
				return
			}
		}
		// A missing or just-closed session is not an error: the post is
		// answered on the stateless path instead.
		g.logger.WithField("session_id", id).Debug("no live session, handling as stateless request")
	}
	g.stateless.serve(w, r, body)
}

// postToStream hands body to stream and reports whether the post was
// answered. It returns false only when the stream already left Open.
func (g *Gateway) postToStream(w http.ResponseWriter, stream *session.Stream, body []byte) bool {
	req, rpcErr := decodeRequest(body)
	if rpcErr != nil {
		writeJSON(w, protocol.Response{JSONRPC: protocol.JSONRPCVersion, Error: rpcErr}, http.StatusBadRequest)
		return true
	}

	switch err := stream.Submit(req); {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("Accepted"))
		return true
	case errors.Is(err, session.ErrStreamBusy):
		writeJSON(w, protocol.NewError(req.ID, protocol.CodeInternalError, "session busy"), http.StatusServiceUnavailable)
		return true
	default:
		return false
	}
}
