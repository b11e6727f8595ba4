// Package mcpext loads optional MCP (Model Context Protocol) extension
// tools into a ToolRegistry: OAuth2 token-exchange against the MCP
// server's token endpoint (cached in CredentialStore), a bearer-token
// connection to the server's tool endpoint, and name-collision-aware
// registration of only the configured tool subset.
//
// Grounded on pkg/auth.Store's refresh-token HTTP exchange shape (same
// grant-exchange idiom credstore.Store.MCPBearerToken already
// implements) and goadesign-goa-ai's runtime/mcp package naming for the
// MCP client boundary — the wire protocol itself is out of scope per
// spec.md §1, so Client is a small pluggable interface here, not a full
// MCP implementation.
package mcpext

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jordangeorgiev/open-deep-research/internal/toolregistry"
)

// Config mirrors spec.md §6's mcp_config: {url, tools[], auth_required}.
type Config struct {
	URL          string
	Tools        []string
	AuthRequired bool

	// SubjectToken is the caller-held token exchanged for an MCP bearer
	// token when AuthRequired is set. Ignored otherwise.
	SubjectToken string
}

// TokenSource resolves a bearer token for mcpURL, exchanging
// SubjectToken when needed. Satisfied by *credstore.Store.
type TokenSource interface {
	MCPBearerToken(ctx context.Context, mcpURL, subjectToken string) (string, error)
}

// ToolDescriptor is one tool a Client exposes, translated into a
// toolregistry.Descriptor on load.
type ToolDescriptor struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Client is the pluggable MCP server boundary: list the server's tools,
// and invoke one by name. A concrete implementation speaks whatever wire
// protocol the MCP server requires (HTTP+SSE, stdio, ...); that
// transport is out of scope here.
type Client interface {
	ListTools(ctx context.Context, bearerToken string) ([]ToolDescriptor, error)
	CallTool(ctx context.Context, bearerToken, name string, input map[string]any) (string, error)
}

// Load connects to cfg.URL (exchanging for a bearer token first when
// cfg.AuthRequired), lists its tools, and registers every tool named in
// cfg.Tools into registry. A tool name already present in registry is
// skipped with a logged warning rather than overwriting the existing
// registration, per spec.md §6.
func Load(ctx context.Context, cfg Config, tokens TokenSource, client Client, registry *toolregistry.Registry, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	var bearerToken string
	if cfg.AuthRequired {
		token, err := tokens.MCPBearerToken(ctx, cfg.URL, cfg.SubjectToken)
		if err != nil {
			return fmt.Errorf("mcpext: token exchange: %w", err)
		}
		bearerToken = token
	}

	available, err := client.ListTools(ctx, bearerToken)
	if err != nil {
		return fmt.Errorf("mcpext: list tools: %w", err)
	}

	wanted := make(map[string]bool, len(cfg.Tools))
	for _, name := range cfg.Tools {
		wanted[name] = true
	}

	for _, tool := range available {
		if !wanted[tool.Name] {
			continue
		}
		if _, exists := registry.Lookup(tool.Name); exists {
			logger.Warn("mcpext: skipping tool, name collision with existing registration", "tool", tool.Name, "mcp_url", cfg.URL)
			continue
		}

		tool := tool
		registry.RegisterCallable(tool.Name, tool.Description, tool.Schema, func(ctx context.Context, input map[string]any) (string, error) {
			return client.CallTool(ctx, bearerToken, tool.Name, input)
		})
	}

	return nil
}
