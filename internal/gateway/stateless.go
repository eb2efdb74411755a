package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/anycrawl/anycrawl-mcp-server/internal/protocol"
	"github.com/anycrawl/anycrawl-mcp-server/internal/session"
)

// statelessHandler answers a self-contained post synchronously on the same
// HTTP response. JSON-RPC outcomes, errors included, are sent with 200.
type statelessHandler struct {
	dispatcher session.Dispatcher
	logger     *logrus.Entry
}

func (h *statelessHandler) serve(w http.ResponseWriter, r *http.Request, body []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Errorf("stateless dispatch panic: %v", rec)
			writeJSON(w, protocol.NewError(nil, protocol.CodeInternalError, "internal error"), http.StatusInternalServerError)
		}
	}()

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		writeJSON(w, protocol.NewError(nil, protocol.CodeParseError, "empty body"), http.StatusBadRequest)
		return
	}
	if trimmed[0] == '[' {
		h.serveBatch(w, r, trimmed)
		return
	}

	req, rpcErr := decodeRequest(trimmed)
	if rpcErr != nil {
		writeJSON(w, protocol.Response{JSONRPC: protocol.JSONRPCVersion, Error: rpcErr}, http.StatusBadRequest)
		return
	}

	h.logger.WithField("method", req.Method).Debug("handling stateless request")
	resp, ok := h.dispatcher.Handle(r.Context(), req)
	if !ok {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, resp, http.StatusOK)
}

func (h *statelessHandler) serveBatch(w http.ResponseWriter, r *http.Request, body []byte) {
	var batch []json.RawMessage
	if err := json.Unmarshal(body, &batch); err != nil {
		writeJSON(w, protocol.NewError(nil, protocol.CodeParseError, "invalid JSON"), http.StatusBadRequest)
		return
	}
	if len(batch) == 0 {
		writeJSON(w, protocol.NewError(nil, protocol.CodeInvalidRequest, "empty batch"), http.StatusBadRequest)
		return
	}

	responses := make([]protocol.Response, 0, len(batch))
	for _, raw := range batch {
		req, rpcErr := decodeRequest(raw)
		if rpcErr != nil {
			responses = append(responses, protocol.Response{JSONRPC: protocol.JSONRPCVersion, Error: rpcErr})
			continue
		}
		if resp, ok := h.dispatcher.Handle(r.Context(), req); ok {
			responses = append(responses, resp)
		}
	}
	if len(responses) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, responses, http.StatusOK)
}

// decodeRequest parses one message. Malformed JSON is a parse error; valid
// JSON that is not a request object is an invalid request.
func decodeRequest(raw []byte) (protocol.Request, *protocol.ResponseError) {
	var req protocol.Request
	trimmed := bytes.TrimSpace(raw)
	if !json.Valid(trimmed) {
		return req, &protocol.ResponseError{Code: protocol.CodeParseError, Message: "invalid JSON"}
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return req, &protocol.ResponseError{Code: protocol.CodeInvalidRequest, Message: "request must be a JSON object"}
	}
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return req, &protocol.ResponseError{Code: protocol.CodeInvalidRequest, Message: "invalid request"}
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
