// Package mcp provides a Model Context Protocol server for Memoir.
//
// It exposes memory capture, retrieval, resurfacing, and context
// confirmation as MCP tools, plus store statistics as a resource.
// Transport is stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/memoirhq/memoir/internal/ingest"
	"github.com/memoirhq/memoir/internal/resurface"
	"github.com/memoirhq/memoir/internal/search"
	"github.com/memoirhq/memoir/internal/store"
)

// ServerConfig holds the wired components the MCP server exposes.
type ServerConfig struct {
	Store     store.Store
	Search    *search.Engine
	Ingestor  *ingest.Ingestor
	Resurface *resurface.Selector
	OwnerID   string
	Version   string
}

// dbMu serializes all MCP tool calls that touch the database.
// The mcp-go library dispatches handlers concurrently via goroutines.
// SQLite (even with WAL) supports only one writer at a time, and concurrent
// reads during writes can return stale results. A global mutex ensures
// correct ordering: an ingest completes before a search sees its data.
var dbMu sync.Mutex

// NewServer creates a configured MCP server with all Memoir tools and
// resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"Memoir",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerSearchTool(s, cfg)
	registerSearchEventsTool(s, cfg)
	registerResurfaceTool(s, cfg)
	registerIngestTool(s, cfg)
	registerConfirmContextTool(s, cfg)
	registerStatsTool(s, cfg)

	registerStatsResource(s, cfg)

	return s
}

func registerSearchTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("memoir_search",
		mcp.WithDescription("Search memories by natural-language query. Temporal phrases in the query ('first time', 'last week') shape ranking. Returns scored results with a per-signal score breakdown."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query string"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results (default: 10, max: 50)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query is required"), nil
		}

		limit := 10
		if v, err := req.RequireFloat("limit"); err == nil && int(v) > 0 {
			limit = int(v)
			if limit > 50 {
				limit = 50
			}
		}

		results, err := cfg.Search.SearchMemories(ctx, cfg.OwnerID, query, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search error: %v", err)), nil
		}

		out := make([]map[string]interface{}, 0, len(results))
		for _, r := range results {
			item := map[string]interface{}{
				"id":          r.Memory.ID,
				"captured_at": r.Memory.CapturedAt,
				"text":        r.Memory.Text,
				"score":       r.Score,
				"breakdown":   r.Breakdown,
			}
			if r.Context != nil && r.Context.PlaceName != "" {
				item["place"] = r.Context.PlaceName
			}
			if len(r.People) > 0 {
				names := make([]string, len(r.People))
				for i, p := range r.People {
					names[i] = p.Name
				}
				item["people"] = names
			}
			if len(r.Tags) > 0 {
				tags := make([]string, len(r.Tags))
				for i, t := range r.Tags {
					tags[i] = t.Tag
				}
				item["tags"] = tags
			}
			out = append(out, item)
		}

		data, _ := json.MarshalIndent(out, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerSearchEventsTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("memoir_search_events",
		mcp.WithDescription("Search synthesized events (clusters of memories) by natural-language query, with optional date range and confidence filters."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query string"),
		),
		mcp.WithString("start",
			mcp.Description("Only events starting on or after this date (YYYY-MM-DD)"),
		),
		mcp.WithString("end",
			mcp.Description("Only events starting on or before this date (YYYY-MM-DD)"),
		),
		mcp.WithNumber("min_confidence",
			mcp.Description("Minimum event confidence in [0,1] (default: 0)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results (default: 10, max: 50)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query is required"), nil
		}

		var opts search.EventOptions
		if v, err := req.RequireString("start"); err == nil && v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid start date: %v", err)), nil
			}
			opts.Start = &t
		}
		if v, err := req.RequireString("end"); err == nil && v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid end date: %v", err)), nil
			}
			// Inclusive day.
			t = t.Add(24*time.Hour - time.Nanosecond)
			opts.End = &t
		}
		if v, err := req.RequireFloat("min_confidence"); err == nil {
			opts.MinConfidence = v
		}

		limit := 10
		if v, err := req.RequireFloat("limit"); err == nil && int(v) > 0 {
			limit = int(v)
			if limit > 50 {
				limit = 50
			}
		}

		results, err := cfg.Search.SearchEvents(ctx, cfg.OwnerID, query, opts, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("event search error: %v", err)), nil
		}

		out := make([]map[string]interface{}, 0, len(results))
		for _, r := range results {
			item := map[string]interface{}{
				"id":         r.Event.ID,
				"title":      r.Event.Title,
				"summary":    r.Event.Summary,
				"started_at": r.Event.StartedAt,
				"ended_at":   r.Event.EndedAt,
				"confidence": r.Event.Confidence,
				"relevance":  r.Relevance,
				"memories":   len(r.Memories),
			}
			if r.Event.PlaceName != "" {
				item["place"] = r.Event.PlaceName
			}
			out = append(out, item)
		}

		data, _ := json.MarshalIndent(out, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerResurfaceTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("memoir_resurface",
		mcp.WithDescription("Pick one past event worth showing the user again, scored by anniversaries, age, richness, and emotional signals. Returns the event plus a ready-to-show notification line."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		sel, err := cfg.Resurface.Select(ctx, cfg.OwnerID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("resurface error: %v", err)), nil
		}
		if sel == nil {
			return mcp.NewToolResultText(`{"message": "nothing to resurface yet"}`), nil
		}

		out := map[string]interface{}{
			"event_id":     sel.Event.ID,
			"title":        sel.Event.Title,
			"summary":      sel.Event.Summary,
			"started_at":   sel.Event.StartedAt,
			"score":        sel.Score,
			"reason":       sel.Reason,
			"notification": sel.Notification,
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerIngestTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("memoir_ingest",
		mcp.WithDescription("Capture a new memory. The text is embedded and the memory joins event clustering and context inference automatically."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("The memory text (voice note transcript or photo caption)"),
		),
		mcp.WithString("captured_at",
			mcp.Description("Capture time, RFC 3339 (default: now)"),
		),
		mcp.WithString("place",
			mcp.Description("Place name where this was captured"),
		),
		mcp.WithNumber("lat",
			mcp.Description("Capture latitude (requires lng)"),
		),
		mcp.WithNumber("lng",
			mcp.Description("Capture longitude (requires lat)"),
		),
		mcp.WithString("media",
			mcp.Description("Media kind: photo or audio (default: photo)"),
			mcp.Enum("photo", "audio"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		text, err := req.RequireString("text")
		if err != nil || strings.TrimSpace(text) == "" {
			return mcp.NewToolResultError("text is required"), nil
		}
		text = strings.ReplaceAll(text, "\x00", "")

		input := ingest.Input{
			OwnerID: cfg.OwnerID,
			Text:    text,
			Source:  store.SourceUpload,
		}

		if v, err := req.RequireString("captured_at"); err == nil && v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid captured_at: %v", err)), nil
			}
			input.CapturedAt = t
		}
		if v, err := req.RequireString("place"); err == nil && v != "" {
			input.PlaceName = v
		}
		lat, latErr := req.RequireFloat("lat")
		lng, lngErr := req.RequireFloat("lng")
		if latErr == nil && lngErr == nil {
			input.Coord = &store.GeoPoint{Lat: lat, Lng: lng}
		}
		if v, err := req.RequireString("media"); err == nil && v != "" {
			input.MediaKind = v
		}

		m, err := cfg.Ingestor.Ingest(ctx, input)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("ingest error: %v", err)), nil
		}

		out := map[string]interface{}{
			"id":          m.ID,
			"captured_at": m.CapturedAt,
			"state":       m.State,
			"message":     "memory captured",
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerConfirmContextTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("memoir_confirm_context",
		mcp.WithDescription("Confirm or correct a memory's context. User-confirmed values override inferred ones and are never overwritten by inference."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("memory_id",
			mcp.Required(),
			mcp.Description("The memory to annotate"),
		),
		mcp.WithString("place",
			mcp.Description("Confirmed place name"),
		),
		mcp.WithString("person",
			mcp.Description("Confirmed person name to add"),
		),
		mcp.WithString("tag",
			mcp.Description("Confirmed tag to add"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		idVal, err := req.RequireFloat("memory_id")
		if err != nil {
			return mcp.NewToolResultError("memory_id is required"), nil
		}
		memoryID := int64(idVal)

		m, err := cfg.Store.GetMemory(ctx, memoryID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("loading memory: %v", err)), nil
		}
		if m == nil || m.OwnerID != cfg.OwnerID {
			return mcp.NewToolResultError(fmt.Sprintf("memory %d not found", memoryID)), nil
		}

		confirmed := []string{}
		if v, err := req.RequireString("place"); err == nil && v != "" {
			if err := cfg.Store.ConfirmContext(ctx, &store.MemoryContext{MemoryID: memoryID, PlaceName: v}); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("confirming place: %v", err)), nil
			}
			confirmed = append(confirmed, "place")
		}
		if v, err := req.RequireString("person"); err == nil && v != "" {
			if err := cfg.Store.ConfirmPerson(ctx, memoryID, v); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("confirming person: %v", err)), nil
			}
			confirmed = append(confirmed, "person")
		}
		if v, err := req.RequireString("tag"); err == nil && v != "" {
			if err := cfg.Store.ConfirmTag(ctx, memoryID, v); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("confirming tag: %v", err)), nil
			}
			confirmed = append(confirmed, "tag")
		}

		if len(confirmed) == 0 {
			return mcp.NewToolResultError("nothing to confirm: supply place, person, or tag"), nil
		}

		out := map[string]interface{}{
			"memory_id": memoryID,
			"confirmed": confirmed,
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerStatsTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("memoir_stats",
		mcp.WithDescription("Get store statistics: memory, event, link, and embedding counts plus database size."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := cfg.Store.Stats(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(stats, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerStatsResource(s *server.MCPServer, cfg ServerConfig) {
	resource := mcp.NewResource(
		"memoir://stats",
		"Memoir Statistics",
		mcp.WithResourceDescription("Memory, event, link, and embedding counts plus database size."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := cfg.Store.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading stats resource: %w", err)
		}

		data, _ := json.MarshalIndent(stats, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}
