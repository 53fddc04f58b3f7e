package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/latch/internal/model"
	"github.com/faucetdb/latch/internal/server/middleware"
	"github.com/faucetdb/latch/internal/service"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// registerTools registers all latch MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Read-only tools -----

	srv.AddTool(
		mcp.NewTool("latch_check_key",
			mcp.WithDescription(
				"Look up a license key and return its status: Normal or Banned, expiry, "+
					"whether it has expired, the bound hardware id, the users who redeemed "+
					"it and its violation count. Never changes the key.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("key",
				mcp.Required(),
				mcp.Description("Key string, e.g. AOV-VN-ABCDEFGHIJ"),
			),
		),
		s.handleCheckKey,
	)

	srv.AddTool(
		mcp.NewTool("latch_list_keys",
			mcp.WithDescription(
				"List license keys in creation order with their status snapshots. "+
					"Optionally filter to banned or normal keys.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("status",
				mcp.Description("Only return keys with this status"),
				mcp.Enum("banned", "normal"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of keys to return (default 100, max 1000)"),
			),
		),
		s.handleListKeys,
	)

	// ----- Mutating tools -----

	srv.AddTool(
		mcp.NewTool("latch_create_key",
			mcp.WithDescription(
				"Issue a new license key. The key is unbound until its first redemption.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithNumber("days",
				mcp.Description("Lifetime in days, 0 to 36500 (default 3)"),
			),
			mcp.WithString("created_by",
				mcp.Description("Issuer recorded on the key (default: the calling admin, else Unknown)"),
			),
		),
		s.handleCreateKey,
	)

	srv.AddTool(
		mcp.NewTool("latch_ban_key",
			mcp.WithDescription("Ban a license key so every further redemption is rejected."),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("key", mcp.Required(), mcp.Description("Key string")),
		),
		s.handleBanKey,
	)

	srv.AddTool(
		mcp.NewTool("latch_unban_key",
			mcp.WithDescription(
				"Lift a ban on a license key. The violation count and hardware binding are kept, "+
					"so a redemption from different hardware bans it again.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("key", mcp.Required(), mcp.Description("Key string")),
		),
		s.handleUnbanKey,
	)

	srv.AddTool(
		mcp.NewTool("latch_delete_key",
			mcp.WithDescription("Permanently delete a license key. This cannot be undone."),
			mcp.WithToolAnnotation(destructiveAnnotation()),
			mcp.WithString("key", mcp.Required(), mcp.Description("Key string")),
		),
		s.handleDeleteKey,
	)
}

// handleCheckKey returns the status snapshot of a single key.
func (s *MCPServer) handleCheckKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	key, err := requireString(request, "key")
	if err != nil {
		return toolError("%v", err)
	}

	st, err := s.keys.Check(ctx, key)
	if err != nil {
		return serviceError(key, err)
	}
	return successJSON(st)
}

// handleListKeys returns key snapshots, optionally filtered by status.
func (s *MCPServer) handleListKeys(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	status := strings.ToLower(optionalString(request, "status"))
	if status != "" && status != "banned" && status != "normal" {
		return toolError("Invalid status %q: expected \"banned\" or \"normal\"", status)
	}
	limit := clamp(optionalInt(request, "limit", defaultListLimit), 1, maxListLimit)

	all, err := s.keys.List(ctx)
	if err != nil {
		return serviceError("", err)
	}

	keys := make([]model.KeyStatus, 0, len(all))
	for _, k := range all {
		if status != "" && strings.ToLower(k.Status) != status {
			continue
		}
		keys = append(keys, k)
		if len(keys) == limit {
			break
		}
	}

	return successJSON(map[string]interface{}{
		"keys":  keys,
		"count": len(keys),
		"total": len(all),
	})
}

// handleCreateKey issues a key.
func (s *MCPServer) handleCreateKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	days, err := optionalIntPtr(request, "days")
	if err != nil {
		return toolError("%v", err)
	}
	req := service.CreateKeyRequest{
		ExpiryDays: days,
		CreatedBy:  optionalString(request, "created_by"),
	}
	// Over HTTP the session's admin is the issuer unless one was given.
	if p := middleware.GetPrincipal(ctx); req.CreatedBy == "" && p != nil {
		req.CreatedBy = p.Email
	}

	k, err := s.keys.Create(ctx, req)
	if err != nil {
		return serviceError("", err)
	}
	return successJSON(map[string]interface{}{
		"message":    "Key created successfully",
		"key":        k.KeyString,
		"expires":    k.ExpiresAt,
		"created_by": k.CreatedBy,
	})
}

func (s *MCPServer) handleBanKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.keyAction(ctx, request, s.keys.Ban, "Key %s has been banned")
}

func (s *MCPServer) handleUnbanKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.keyAction(ctx, request, s.keys.Unban, "Key %s has been unbanned")
}

func (s *MCPServer) handleDeleteKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.keyAction(ctx, request, s.keys.Delete, "Key %s deleted successfully")
}

func (s *MCPServer) keyAction(
	ctx context.Context,
	request mcp.CallToolRequest,
	op func(ctx context.Context, key string) error,
	okFormat string,
) (*mcp.CallToolResult, error) {

	key, err := requireString(request, "key")
	if err != nil {
		return toolError("%v", err)
	}
	if err := op(ctx, key); err != nil {
		return serviceError(key, err)
	}
	return mcp.NewToolResultText(fmt.Sprintf(okFormat, key)), nil
}
