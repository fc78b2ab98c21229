// Package mcp provides the MCP (Model Context Protocol) server for pydeps.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Benny93/pydeps-go/internal/graph"
	"github.com/Benny93/pydeps-go/internal/query"
)

// Version is reported to clients in the initialize handshake.
var Version = "0.1.0"

const overviewURI = "pydeps://overview"

// Server represents the MCP server.
type Server struct {
	queries *query.Service
	server  *mcp.Server
}

// Tool represents an MCP tool.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// Resource represents an MCP resource.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

// NewServer creates a new MCP server answering from queries.
func NewServer(queries *query.Service) *Server {
	s := &Server{queries: queries}

	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "pydeps",
		Version: Version,
	}, nil)

	s.registerTools()
	s.registerResources()

	return s
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []Tool {
	entity := &jsonschema.Schema{Type: "string", Description: "Entity id, e.g. pkg.mod.Class.method, or a unique trailing part of one"}
	return []Tool{
		{
			Name:        "pydeps_dependencies",
			Description: "List what an entity depends on: base classes it inherits, functions it calls and modules it imports.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"entity": entity,
					"kind": {
						Type:        "string",
						Enum:        []any{string(graph.RelInherits), string(graph.RelCalls), string(graph.RelImports)},
						Description: "Only return edges of this kind",
					},
				},
				Required: []string{"entity"},
			},
		},
		{
			Name:        "pydeps_used_by",
			Description: "List the project entities that depend on an entity.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"entity": entity,
				},
				Required: []string{"entity"},
			},
		},
		{
			Name:        "pydeps_locate",
			Description: "Report which entities enclose a line of a Python file, innermost first.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"file": {Type: "string", Description: "Path of the file relative to the repository"},
					"line": {Type: "integer", Description: "1-based line number"},
				},
				Required: []string{"file", "line"},
			},
		},
		{
			Name:        "pydeps_entities",
			Description: "List project entities (modules, classes, functions), optionally filtered by a dotted glob such as pkg.**.handlers.*.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"pattern": {Type: "string", Description: "Glob over entity ids; * matches one segment, ** several"},
				},
			},
		},
		{
			Name:        "pydeps_unused",
			Description: "List project classes and functions that nothing else in the project depends on.",
			InputSchema: &jsonschema.Schema{
				Type:       "object",
				Properties: map[string]*jsonschema.Schema{},
			},
		},
	}
}

// ListResources returns all registered resources.
func (s *Server) ListResources() []Resource {
	return []Resource{
		{
			URI:         overviewURI,
			Name:        "Dependency Graph Overview",
			Description: "Counts of files, entities and edges in the index",
			MimeType:    "text/plain",
		},
	}
}

// CallTool executes a tool with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case "pydeps_dependencies":
		entity, _ := args["entity"].(string)
		kind, _ := args["kind"].(string)
		return s.handleDependencies(ctx, entity, kind)
	case "pydeps_used_by":
		entity, _ := args["entity"].(string)
		return s.handleUsedBy(ctx, entity)
	case "pydeps_locate":
		file, _ := args["file"].(string)
		line, _ := args["line"].(float64)
		return s.handleLocate(ctx, file, int(line))
	case "pydeps_entities":
		pattern, _ := args["pattern"].(string)
		return s.handleEntities(ctx, pattern)
	case "pydeps_unused":
		return s.handleUnused(ctx)
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (string, error) {
	switch uri {
	case overviewURI:
		return s.getOverview(ctx)
	default:
		return "", fmt.Errorf("unknown resource: %s", uri)
	}
}

// Run serves MCP over stdin/stdout until the client disconnects or ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Connect serves a single session over t. It is used with in-memory
// transports.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}

// Tool Handlers

func (s *Server) handleDependencies(ctx context.Context, entity, kind string) (string, error) {
	if entity == "" {
		return "No entity provided", nil
	}

	var kinds []graph.RelType
	if kind != "" {
		k, ok := graph.ParseRelType(kind)
		if !ok {
			return "", fmt.Errorf("unknown kind %q", kind)
		}
		kinds = append(kinds, k)
	}

	id, edges, err := s.queries.Dependencies(ctx, entity, kinds...)
	if err != nil {
		return notFound(entity, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Dependencies of %s\n\n", id)
	if len(edges) == 0 {
		sb.WriteString("No dependencies.\n")
		return sb.String(), nil
	}
	for _, e := range edges {
		fmt.Fprintf(&sb, "- %s `%s`\n", e.Kind, e.Target)
	}
	return sb.String(), nil
}

func (s *Server) handleUsedBy(ctx context.Context, entity string) (string, error) {
	if entity == "" {
		return "No entity provided", nil
	}

	id, users, err := s.queries.UsedBy(ctx, entity)
	if err != nil {
		return notFound(entity, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Used by %s\n\n", id)
	if len(users) == 0 {
		sb.WriteString("No project entity depends on it.\n")
		return sb.String(), nil
	}
	for _, u := range users {
		fmt.Fprintf(&sb, "- `%s`\n", u)
	}
	return sb.String(), nil
}

func (s *Server) handleLocate(ctx context.Context, file string, line int) (string, error) {
	if file == "" {
		return "No file provided", nil
	}

	loc, err := s.queries.Locate(ctx, file, line)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s:%d\n\n", loc.File, loc.Line)
	if loc.Stale {
		sb.WriteString("_The file changed since the last analysis._\n\n")
	}
	for i, id := range loc.Entities {
		fmt.Fprintf(&sb, "%d. `%s`\n", i+1, id)
	}
	return sb.String(), nil
}

func (s *Server) handleEntities(ctx context.Context, pattern string) (string, error) {
	ids, err := s.queries.Entities(ctx, pattern)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if pattern == "" {
		fmt.Fprintf(&sb, "## Entities (%d)\n\n", len(ids))
	} else {
		fmt.Fprintf(&sb, "## Entities matching `%s` (%d)\n\n", pattern, len(ids))
	}
	for _, id := range ids {
		fmt.Fprintf(&sb, "- `%s`\n", id)
	}
	return sb.String(), nil
}

func (s *Server) handleUnused(ctx context.Context) (string, error) {
	ids, err := s.queries.Unused(ctx)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("## Unused Entities\n\n")
	if len(ids) == 0 {
		sb.WriteString("No unused entities detected.\n")
		return sb.String(), nil
	}
	for _, id := range ids {
		fmt.Fprintf(&sb, "- `%s`\n", id)
	}
	return sb.String(), nil
}

// Resource Handlers

func (s *Server) getOverview(ctx context.Context) (string, error) {
	ov, err := s.queries.Overview(ctx)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("# pydeps Dependency Graph Overview\n\n")
	fmt.Fprintf(&sb, "**Run:** %s\n", ov.RunID)
	fmt.Fprintf(&sb, "**Files:** %d\n", ov.Files)
	fmt.Fprintf(&sb, "**Entities:** %d\n", ov.Entities)
	fmt.Fprintf(&sb, "**Edges:** %d\n", ov.Stats["edges"])
	sb.WriteString("\n## Edge Kinds\n\n")
	for _, k := range graph.RelTypes {
		fmt.Fprintf(&sb, "- %s: %d\n", k, ov.Stats[string(k)])
	}
	return sb.String(), nil
}

// Helper functions

// notFound turns an unresolvable name into a readable answer instead of a
// protocol error.
func notFound(entity string, err error) (string, error) {
	if errors.Is(err, query.ErrUnknownEntity) || errors.Is(err, query.ErrAmbiguousEntity) {
		return fmt.Sprintf("Entity %q not found: %v", entity, err), nil
	}
	return "", err
}

// registerTools registers tools with the MCP server.
func (s *Server) registerTools() {
	for _, tool := range s.ListTools() {
		s.server.AddTool(&mcp.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := map[string]any{}
			if len(req.Params.Arguments) > 0 {
				if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
					return nil, fmt.Errorf("decoding arguments: %w", err)
				}
			}

			text, err := s.CallTool(ctx, tool.Name, args)
			if err != nil {
				return &mcp.CallToolResult{
					IsError: true,
					Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				}, nil
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: text}},
			}, nil
		})
	}
}

// registerResources registers resources with the MCP server.
func (s *Server) registerResources() {
	for _, res := range s.ListResources() {
		s.server.AddResource(&mcp.Resource{
			URI:         res.URI,
			Name:        res.Name,
			Description: res.Description,
			MIMEType:    res.MimeType,
		}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			text, err := s.ReadResource(ctx, req.Params.URI)
			if err != nil {
				return nil, err
			}
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{
					{URI: req.Params.URI, MIMEType: res.MimeType, Text: text},
				},
			}, nil
		})
	}
}
