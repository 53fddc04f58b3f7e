package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/faucetdb/latch/internal/service"
	"github.com/faucetdb/latch/internal/store"
)

// --------------------------------------------------------------------------
// Parameter extraction helpers
// --------------------------------------------------------------------------

// requireString extracts a required, non-empty string argument.
func requireString(request mcp.CallToolRequest, key string) (string, error) {
	val, err := request.RequireString(key)
	if err != nil || val == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return val, nil
}

// optionalString extracts an optional string argument from the tool request.
func optionalString(request mcp.CallToolRequest, key string) string {
	return request.GetString(key, "")
}

// optionalInt extracts an optional integer argument from the tool request.
func optionalInt(request mcp.CallToolRequest, key string, defaultVal int) int {
	return request.GetInt(key, defaultVal)
}

// optionalIntPtr returns nil when key is absent so callers can tell an
// omitted argument from an explicit zero. A present value that is not a
// whole number is an error.
func optionalIntPtr(request mcp.CallToolRequest, key string) (*int, error) {
	args := request.GetArguments()
	if args == nil {
		return nil, nil
	}
	raw, ok := args[key]
	if !ok {
		return nil, nil
	}
	if f, isFloat := raw.(float64); isFloat && (f != math.Trunc(f) || math.Abs(f) > math.MaxInt32) {
		return nil, fmt.Errorf("parameter %q must be a whole number", key)
	}
	v, err := request.RequireInt(key)
	if err != nil {
		return nil, fmt.Errorf("parameter %q must be a whole number", key)
	}
	return &v, nil
}

// --------------------------------------------------------------------------
// Response builders
// --------------------------------------------------------------------------

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a tool-level error result. Errors returned this way are
// visible to the LLM so it can self-correct; they do NOT terminate the MCP
// session.
func toolError(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}

// serviceError maps a service failure to a tool result. Storage outages are
// reported generically.
func serviceError(key string, err error) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return toolError("Key %q does not exist", key)
	case errors.Is(err, service.ErrInvalidInput):
		return toolError("%v", err)
	case errors.Is(err, store.ErrUnavailable):
		return toolError("Key storage is unavailable, try again later")
	default:
		return toolError("Operation failed: %v", err)
	}
}

// clamp constrains val to [min, max].
func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
