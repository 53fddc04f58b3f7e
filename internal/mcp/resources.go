package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	keysURI       = "latch://keys"
	keyURIPrefix  = "latch://keys/"
	keyURIPattern = "latch://keys/{key}"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	// -------------------------------------------------------------------
	// latch://keys: every key's status snapshot
	// -------------------------------------------------------------------
	srv.AddResource(
		mcp.NewResource(
			keysURI,
			"License Keys",
			mcp.WithResourceDescription(
				"Status snapshots of all license keys, in creation order.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleKeysResource,
	)

	// -------------------------------------------------------------------
	// latch://keys/{key}: a single key's status snapshot (template)
	// -------------------------------------------------------------------
	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			keyURIPattern,
			"License Key",
			mcp.WithTemplateDescription(
				"Status snapshot of one license key, including its bound hardware id and redeemers.",
			),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleKeyResource,
	)
}

func (s *MCPServer) handleKeysResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	keys, err := s.keys.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return jsonResource(keysURI, keys)
}

func (s *MCPServer) handleKeyResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	uri := request.Params.URI
	key := strings.TrimPrefix(uri, keyURIPrefix)
	if key == "" || key == uri {
		return nil, fmt.Errorf("invalid key URI %q: expected %s", uri, keyURIPattern)
	}

	st, err := s.keys.Check(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to check key %q: %w", key, err)
	}
	return jsonResource(uri, st)
}

func jsonResource(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
