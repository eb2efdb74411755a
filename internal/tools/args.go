package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// ErrInvalidArguments marks missing or malformed tool arguments. It is always
// detected before any upstream call.
var ErrInvalidArguments = errors.New("invalid arguments")

// ArgumentError names the offending argument.
type ArgumentError struct {
	Field  string
	Reason string
}

func (e *ArgumentError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", ErrInvalidArguments, e.Reason)
	}
	return fmt.Sprintf("%v: %s %s", ErrInvalidArguments, e.Field, e.Reason)
}

func (e *ArgumentError) Unwrap() error {
	return ErrInvalidArguments
}

// Caller is the upstream surface the tools need.
type Caller interface {
	Do(ctx context.Context, method, path string, query url.Values, payload any) (json.RawMessage, error)
}

// decodeArgs unmarshals raw arguments into v. Absent or null arguments
// leave v at its zero value.
func decodeArgs(raw json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return &ArgumentError{Reason: err.Error()}
	}
	return nil
}

func requireString(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ArgumentError{Field: field, Reason: "is required"}
	}
	return nil
}

// jobPath builds a per-job route with the id escaped as a single segment.
func jobPath(id, suffix string) string {
	return "/v1/crawl/" + url.PathEscape(strings.TrimSpace(id)) + suffix
}

func objectSchema(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

func stringProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description}
}

func numberProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "number", Description: description}
}

func jobIDSchema(description string) *jsonschema.Schema {
	return objectSchema(map[string]*jsonschema.Schema{
		"id": stringProp(description),
	}, "id")
}

type jobArgs struct {
	ID string `json:"id"`
}
