// Package mcp registers the core whisperprint tools on an MCP server,
// so MCP clients can fingerprint documents and trace leaks directly.
package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pkg/kit"
	"github.com/hazyhaar/whisperprint/internal/engine"
)

// NewServer creates an MCP server with all core whisperprint tools registered.
func NewServer(eng *engine.Engine) *mcp.Server {
	srv := mcp.NewServer(
		&mcp.Implementation{Name: "whisperprint", Version: "0.1.0"},
		nil,
	)

	registerFingerprintDocument(srv, eng)
	registerIdentifyLeak(srv, eng)
	registerListRecipients(srv, eng)
	registerListAuditLogs(srv, eng)

	return srv
}

// --- fingerprint_document ---

func registerFingerprintDocument(srv *mcp.Server, eng *engine.Engine) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text":         map[string]string{"type": "string", "description": "The document text to fingerprint"},
			"recipient_id": map[string]string{"type": "string", "description": "Identifier of the recipient this copy is for"},
			"metadata":     map[string]string{"type": "string", "description": "Optional JSON metadata stored with the fingerprint"},
		},
		"required": []string{"text", "recipient_id"},
	})
	tool := &mcp.Tool{Name: "fingerprint_document",
		Description: "Produce a copy of a document carrying an invisible marker tied to a recipient", InputSchema: json.RawMessage(schema)}

	kit.RegisterMCPTool(srv, tool, func(ctx context.Context, request any) (any, error) {
		r := request.(*fingerprintReq)
		doc, err := eng.CreateFingerprintedDocument(ctx, r.Text, r.RecipientID, r.Metadata, "mcp")
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"marked_text":    doc.MarkedText,
			"identity_token": doc.IdentityToken,
			"record":         doc.Record,
		}, nil
	}, func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := rawArgs(req)
		return &kit.MCPDecodeResult{Request: &fingerprintReq{
			Text:        stringArg(args, "text"),
			RecipientID: stringArg(args, "recipient_id"),
			Metadata:    stringArg(args, "metadata"),
		}}, nil
	})
}

type fingerprintReq struct {
	Text        string `json:"text"`
	RecipientID string `json:"recipient_id"`
	Metadata    string `json:"metadata"`
}

// --- identify_leak ---

func registerIdentifyLeak(srv *mcp.Server, eng *engine.Engine) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"leaked_text": map[string]string{"type": "string", "description": "The leaked document text to examine"},
		},
		"required": []string{"leaked_text"},
	})
	tool := &mcp.Tool{Name: "identify_leak",
		Description: "Identify which recipient a leaked document was issued to", InputSchema: json.RawMessage(schema)}

	kit.RegisterMCPTool(srv, tool, func(ctx context.Context, request any) (any, error) {
		r := request.(*identifyReq)
		match, err := eng.IdentifyLeakedDocument(ctx, r.LeakedText, "mcp")
		if err != nil {
			return nil, err
		}
		if match == nil {
			return map[string]any{"identified": false}, nil
		}
		return map[string]any{
			"identified":     true,
			"recipient_id":   match.RecipientID,
			"identity_token": match.IdentityToken,
			"via":            match.Via,
		}, nil
	}, func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := rawArgs(req)
		return &kit.MCPDecodeResult{Request: &identifyReq{
			LeakedText: stringArg(args, "leaked_text"),
		}}, nil
	})
}

type identifyReq struct {
	LeakedText string `json:"leaked_text"`
}

// --- list_recipients ---

func registerListRecipients(srv *mcp.Server, eng *engine.Engine) {
	schema, _ := json.Marshal(map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	})
	tool := &mcp.Tool{Name: "list_recipients",
		Description: "List all recipients known to the fingerprint registry", InputSchema: json.RawMessage(schema)}

	kit.RegisterMCPTool(srv, tool, func(ctx context.Context, request any) (any, error) {
		recipients, err := eng.ListRecipients(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"recipients": recipients, "count": len(recipients)}, nil
	}, func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: &struct{}{}}, nil
	})
}

// --- list_audit_logs ---

func registerListAuditLogs(srv *mcp.Server, eng *engine.Engine) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit":      map[string]any{"type": "integer", "description": "Max entries to return", "default": 100},
			"event_type": map[string]string{"type": "string", "description": "Optional event type filter"},
		},
	})
	tool := &mcp.Tool{Name: "list_audit_logs",
		Description: "List recent audit log entries, newest first", InputSchema: json.RawMessage(schema)}

	kit.RegisterMCPTool(srv, tool, func(ctx context.Context, request any) (any, error) {
		r := request.(*auditLogsReq)
		limit := r.Limit
		if limit <= 0 {
			limit = 100
		}
		logs, err := eng.AuditLogs(ctx, limit, r.EventType)
		if err != nil {
			return nil, err
		}
		return map[string]any{"logs": logs, "count": len(logs)}, nil
	}, func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := rawArgs(req)
		return &kit.MCPDecodeResult{Request: &auditLogsReq{
			Limit:     intArg(args, "limit", 100),
			EventType: stringArg(args, "event_type"),
		}}, nil
	})
}

type auditLogsReq struct {
	Limit     int    `json:"limit"`
	EventType string `json:"event_type"`
}

// --- helpers ---

func rawArgs(req *mcp.CallToolRequest) map[string]any {
	var args map[string]any
	if len(req.Params.Arguments) > 0 {
		_ = json.Unmarshal(req.Params.Arguments, &args)
	}
	return args
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return def
	}
}
