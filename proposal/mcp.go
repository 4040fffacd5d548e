package proposal

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/rfpgen/kit"
	"github.com/hazyhaar/rfpgen/observability"
)

// MCPServerName is the implementation name announced to MCP clients.
const MCPServerName = "rfpgen"

// RegisterMCP registers the rfpgen tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerDraft(srv)
	s.registerUpload(srv)
	s.registerProposalGet(srv)
	s.registerRFPList(srv)
}

// NewMCPServer creates an MCP server with every rfpgen tool registered.
func (s *Service) NewMCPServer(version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: MCPServerName, Version: version}, nil)
	s.RegisterMCP(srv)
	return srv
}

// MCPHandler serves srv over the streamable HTTP transport.
func MCPHandler(srv *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// tool wraps an MCP endpoint with logging and a duration metric.
func (s *Service) tool(name string, endpoint kit.Endpoint) kit.Endpoint {
	return kit.Chain(
		kit.Logging(s.logger, name),
		kit.Observe(func(ctx context.Context, d time.Duration, err error) {
			status := "ok"
			if err != nil {
				status = "error"
			}
			observability.Duration(s.metrics, observability.MetricMCPToolDurationMs, d,
				map[string]string{"tool": name, "status": status})
		}),
	)(endpoint)
}

func (s *Service) registerDraft(srv *mcp.Server) {
	type req struct {
		Text string `json:"text"`
	}

	tool := &mcp.Tool{
		Name:        "rfp_draft",
		Description: "Extract client, project and due date from RFP text and draft the six proposal sections. Nothing is stored.",
		InputSchema: inputSchema(map[string]any{
			"text": map[string]any{"type": "string", "description": "Plain text of the RFP"},
		}, []string{"text"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		res := s.Draft(p.Text)
		return map[string]any{
			"fields":   res.Fields,
			"sections": res.Sections.Slice(),
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, s.tool(tool.Name, endpoint), kit.DecodeArgs[req])
}

func (s *Service) registerUpload(srv *mcp.Server) {
	type req struct {
		Filename      string `json:"filename"`
		MimeType      string `json:"mimetype"`
		Text          string `json:"text"`
		ContentBase64 string `json:"content_base64"`
	}

	tool := &mcp.Tool{
		Name:        "rfp_upload",
		Description: "Store an RFP document and generate its proposal. Pass either text or content_base64 (raw file bytes).",
		InputSchema: inputSchema(map[string]any{
			"filename":       map[string]any{"type": "string", "description": "Original file name, used for format detection"},
			"mimetype":       map[string]any{"type": "string", "description": "Declared media type"},
			"text":           map[string]any{"type": "string", "description": "Plain text content"},
			"content_base64": map[string]any{"type": "string", "description": "Base64-encoded file content"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		u := Upload{Filename: p.Filename, MimeType: p.MimeType}
		switch {
		case p.Text != "" && p.ContentBase64 != "":
			return nil, errors.New("pass text or content_base64, not both")
		case p.ContentBase64 != "":
			// Padding makes DecodedLen overshoot by at most two bytes.
			if int64(base64.StdEncoding.DecodedLen(len(p.ContentBase64))) > s.maxUpload+2 {
				return nil, fmt.Errorf("content_base64: %w", ErrTooLarge)
			}
			data, err := base64.StdEncoding.DecodeString(p.ContentBase64)
			if err != nil {
				return nil, fmt.Errorf("content_base64: %w", err)
			}
			u.Data = data
		default:
			u.Data = []byte(p.Text)
			if u.MimeType == "" {
				u.MimeType = "text/plain"
			}
		}
		return s.Upload(ctx, u)
	}

	kit.RegisterMCPTool(srv, tool, s.tool(tool.Name, endpoint), kit.DecodeArgs[req])
}

func (s *Service) registerProposalGet(srv *mcp.Server) {
	type req struct {
		ID string `json:"id"`
	}

	tool := &mcp.Tool{
		Name:        "proposal_get",
		Description: "Get a generated proposal by id",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Proposal ID (prp_...)"},
		}, []string{"id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		return s.Proposal(ctx, r.(*req).ID)
	}

	kit.RegisterMCPTool(srv, tool, s.tool(tool.Name, endpoint), kit.DecodeArgs[req])
}

func (s *Service) registerRFPList(srv *mcp.Server) {
	type req struct {
		Limit int `json:"limit"`
	}

	tool := &mcp.Tool{
		Name:        "rfp_list",
		Description: "List uploaded RFPs, newest first",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max rows (default 50)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		return s.RFPs(ctx, r.(*req).Limit)
	}

	kit.RegisterMCPTool(srv, tool, s.tool(tool.Name, endpoint), kit.DecodeArgs[req])
}
