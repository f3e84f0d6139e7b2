package mcp

import (
	"database/sql"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/protkit/internal/config"
	"github.com/hpungsan/protkit/internal/ops"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"sequence_normalize": {
		def:     normalizeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleNormalize },
	},
	"protein_analyze": {
		def:     analyzeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAnalyze },
	},
	"structure_predict": {
		def:     predictToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePredict },
	},
	"session_add": {
		def:     sessionAddToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionAdd },
	},
	"session_list": {
		def:     sessionListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionList },
	},
	"session_remove": {
		def:     sessionRemoveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionRemove },
	},
	"session_predict": {
		def:     sessionPredictToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionPredict },
	},
	"session_analyze": {
		def:     sessionAnalyzeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionAnalyze },
	},
	"session_affinity": {
		def:     sessionAffinityToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionAffinity },
	},
}

// AllToolNames returns all valid tool names, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with protkit tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(db *sql.DB, cfg *config.Config, runner *ops.Runner, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"protkit",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(db, cfg, runner)

	disabled := make(map[string]bool, len(cfg.DisabledTools))
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	// Register tools (skip disabled)
	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(db *sql.DB, cfg *config.Config, runner *ops.Runner, version string) error {
	s := NewServer(db, cfg, runner, version)
	return server.ServeStdio(s)
}
