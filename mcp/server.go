// mcp/server.go
// Minimal MCP stdio server exposing the research tools.
// - Process wiring (config, browser pool, queue) happens ONLY here.
// - Tools operate on explicit inputs and return plain JSON maps.
//
// Start: `go run mcp/server.go`
// Clients connect via stdio JSON-RPC: "tools/list" and "tools/call".

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/qpd-v/deepwebresearch/config"
	"github.com/qpd-v/deepwebresearch/internal/analyze"
	"github.com/qpd-v/deepwebresearch/internal/browser"
	"github.com/qpd-v/deepwebresearch/internal/content"
	"github.com/qpd-v/deepwebresearch/internal/dispatch"
	"github.com/qpd-v/deepwebresearch/internal/engine"
	"github.com/qpd-v/deepwebresearch/internal/extract"
	"github.com/qpd-v/deepwebresearch/internal/queue"
)

// ---------- JSON-RPC skeleton ----------

type rpcReq struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      any                    `json:"id"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params"`
}
type rpcResp struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      any                    `json:"id"`
	Result  map[string]interface{} `json:"result,omitempty"`
	Error   *rpcError              `json:"error,omitempty"`
}
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeResp(w io.Writer, id any, result map[string]interface{}, err error) {
	resp := rpcResp{JSONRPC: "2.0", ID: id}
	if err != nil {
		resp.Error = &rpcError{Code: -32000, Message: err.Error()}
	} else {
		resp.Result = result
	}
	enc := json.NewEncoder(w)
	_ = enc.Encode(resp)
}

// ---------- Tool registry ----------

// ToolDesc describes a single MCP tool, including input schema.
type ToolDesc struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// MCPServer holds the shared deps.
type MCPServer struct {
	Engine *engine.Engine
	Queue  *queue.Queue
	Pool   *browser.Pool

	// CallTimeout bounds one tools/call end to end; deep_research
	// timeouts are clamped below it.
	CallTimeout time.Duration

	cancelQueue context.CancelFunc
	tools       []ToolDesc
}

// NewMCPServer wires dependencies once.
func NewMCPServer() (*MCPServer, error) {
	cfg, err := config.LoadConfig(os.Getenv("DEEPRESEARCH_CONFIG"))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	// Stdout carries JSON-RPC; all logging goes to stderr.
	logger := log.New(os.Stderr, "[MCP] ", log.LstdFlags)

	pool := browser.NewPool(browser.Config{
		PoolSize:          cfg.Browser.PoolSize,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		Headless:          cfg.Browser.Headless,
		SearchEngineURL:   cfg.Search.EngineURL,
	}, logger)

	extractor := extract.New(extract.Config{MaxContentLength: cfg.Extract.MaxContentLength}, logger)
	analyzer := analyze.New(analyze.Config{
		MinTopicConfidence:   cfg.Analyze.MinTopicConfidence,
		MaxTopics:            cfg.Analyze.MaxTopics,
		MinInsightImportance: cfg.Analyze.MinInsightImportance,
		MaxInsights:          cfg.Analyze.MaxInsights,
	}, logger)

	eng := engine.New(engine.Config{
		Dispatch: dispatch.Config{
			MaxParallel:     cfg.Search.MaxParallel,
			StaggerDelay:    cfg.Search.StaggerDelay,
			InterChunkDelay: cfg.Search.InterChunkDelay,
			MaxResults:      cfg.Search.MaxResults,
		},
		TimeoutCeiling: cfg.Session.TimeoutCeiling,
		ResultsDir:     cfg.Output.ResultsDir,
		FollowLinks:    cfg.Session.FollowLinks,
	}, pool, extractor, analyzer, logger)

	qctx, cancel := context.WithCancel(context.Background())
	q := queue.New(queue.Config{
		MaxRetries: cfg.Queue.MaxRetries,
		RateEvery:  cfg.Queue.RateEvery,
		RateBurst:  cfg.Queue.RateBurst,
		RetryBase:  cfg.Queue.RetryBase,
	}, func(ctx context.Context, query string) (content.QueryResult, error) {
		batch, err := eng.ParallelSearch(ctx, []string{query}, 1)
		if err != nil {
			return content.QueryResult{Query: query}, err
		}
		qr := batch.Results[0]
		if qr.Failed() {
			return qr, errors.New(qr.Error)
		}
		return qr, nil
	}, logger)
	go q.Run(qctx)

	srv := &MCPServer{
		Engine:      eng,
		Queue:       q,
		Pool:        pool,
		CallTimeout: 2 * time.Minute,
		cancelQueue: cancel,
	}
	srv.initTools()
	return srv, nil
}

// Close releases the browser pool and stops the queue loop.
func (srv *MCPServer) Close() {
	srv.cancelQueue()
	srv.Pool.Close()
}

// initTools defines schemas and descriptions surfaced to MCP clients.
func (srv *MCPServer) initTools() {
	srv.tools = []ToolDesc{
		{
			Name:        "deep_research",
			Description: "Research a topic across the web: search fan-out, page crawl, topic and insight aggregation.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"topic":               map[string]any{"type": "string"},
					"max_depth":           map[string]any{"type": "integer", "minimum": 1, "maximum": 5},
					"max_branching":       map[string]any{"type": "integer", "minimum": 1, "maximum": 5},
					"timeout_ms":          map[string]any{"type": "integer", "minimum": 1000},
					"min_relevance_score": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
				},
				"required": []string{"topic"},
			},
		},
		{
			Name:        "parallel_search",
			Description: "Run several search-engine queries concurrently and return scored results.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"queries":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"max_parallel": map[string]any{"type": "integer", "minimum": 1, "maximum": 10},
				},
				"required": []string{"queries"},
			},
		},
		{
			Name:        "visit_page",
			Description: "Fetch one page and return its extracted markdown content.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url": map[string]any{"type": "string"},
				},
				"required": []string{"url"},
			},
		},
		{
			Name:        "get_queue_status",
			Description: "Report aggregate search queue counts and the current item.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "cancel_search",
			Description: "Cancel a pending queued search by id, or every pending search when no id is given.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": map[string]any{"type": "string"},
				},
			},
		},
	}
}

// callTool dispatches to handler functions.
func (srv *MCPServer) callTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	switch name {
	case "deep_research":
		return srv.tDeepResearch(ctx, args)
	case "parallel_search":
		return srv.tParallelSearch(ctx, args)
	case "visit_page":
		return srv.tVisitPage(ctx, args)
	case "get_queue_status":
		return srv.tQueueStatus(ctx, args)
	case "cancel_search":
		return srv.tCancelSearch(ctx, args)
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// ---------- Tool handlers ----------

// tDeepResearch runs one full research session.
// Input: topic (string), max_depth, max_branching, timeout_ms, min_relevance_score.
func (srv *MCPServer) tDeepResearch(ctx context.Context, args map[string]any) (map[string]any, error) {
	topic := str(args["topic"])
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	report, err := srv.Engine.Research(ctx, engine.ResearchRequest{
		Topic:        topic,
		MaxDepth:     asInt(args["max_depth"]),
		MaxBranching: asInt(args["max_branching"]),
		Timeout:      time.Duration(asInt(args["timeout_ms"])) * time.Millisecond,
		MinRelevance: asFloat(args["min_relevance_score"]),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"session_id": report.SessionID,
		"status":     report.Status,
		"findings":   report.Findings,
		"progress":   report.Progress,
		"timings":    report.Timings,
		"duration":   report.Duration.String(),
	}, nil
}

// tParallelSearch runs one dispatch round.
// Input: queries ([]string), max_parallel (optional).
func (srv *MCPServer) tParallelSearch(ctx context.Context, args map[string]any) (map[string]any, error) {
	queries := asStrSlice(args["queries"])
	if len(queries) == 0 {
		return nil, errors.New("queries are required")
	}
	maxParallel := clampInt(asInt(args["max_parallel"]), 1, 10)
	batch, err := srv.Engine.ParallelSearch(ctx, queries, maxParallel)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"results":       batch.Results,
		"success_count": batch.SuccessCount,
		"failure_count": batch.FailureCount,
		"duration":      batch.Duration.String(),
	}, nil
}

// tVisitPage fetches and extracts one page.
func (srv *MCPServer) tVisitPage(ctx context.Context, args map[string]any) (map[string]any, error) {
	url := str(args["url"])
	if url == "" {
		return nil, errors.New("url is required")
	}
	page, err := srv.Engine.VisitPage(ctx, url)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"url":     page.URL,
		"title":   page.Title,
		"content": page.Content,
	}, nil
}

func (srv *MCPServer) tQueueStatus(_ context.Context, _ map[string]any) (map[string]any, error) {
	st := srv.Queue.Status()
	return map[string]any{
		"pending":      st.Pending,
		"in_progress":  st.InProgress,
		"completed":    st.Completed,
		"failed":       st.Failed,
		"cancelled":    st.Cancelled,
		"current_item": st.Current,
	}, nil
}

func (srv *MCPServer) tCancelSearch(_ context.Context, args map[string]any) (map[string]any, error) {
	id := str(args["id"])
	if id == "" {
		n := srv.Queue.CancelAll()
		return map[string]any{"success": true, "cancelled": n}, nil
	}
	if err := srv.Queue.Cancel(id); err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	return map[string]any{"success": true, "cancelled": 1}, nil
}

// ---------- arg coercion helpers ----------

func str(v any) string {
	s, _ := v.(string)
	return s
}
func asInt(v any) int {
	switch x := v.(type) {
	case float64:
		return int(x)
	case int:
		return x
	case json.Number:
		i, _ := x.Int64()
		return int(i)
	default:
		return 0
	}
}
func asFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case json.Number:
		f, _ := x.Float64()
		return f
	default:
		return 0
	}
}
func asStrSlice(v any) []string {
	if v == nil {
		return nil
	}
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ---------- stdio loop ----------

// Serve runs a simple stdio JSON-RPC loop for MCP.
func (srv *MCPServer) Serve(in io.Reader, out io.Writer) error {
	rd := bufio.NewReader(in)
	dec := json.NewDecoder(rd)
	for {
		var req rpcReq
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			// try to skip bad lines
			continue
		}

		switch req.Method {
		case "tools/list":
			writeResp(out, req.ID, map[string]any{"tools": srv.tools}, nil)

		case "tools/call":
			name := ""
			args := map[string]any{}
			if v, ok := req.Params["name"].(string); ok {
				name = v
			}
			if m, ok := req.Params["arguments"].(map[string]any); ok {
				args = m
			}
			// Per-call timeout to avoid stuck handlers
			ctx, cancel := context.WithTimeout(context.Background(), srv.CallTimeout)
			res, err := srv.callTool(ctx, name, args)
			cancel()
			writeResp(out, req.ID, res, err)

		default:
			writeResp(out, req.ID, nil, fmt.Errorf("unknown method: %s", req.Method))
		}
	}
}

func main() {
	srv, err := NewMCPServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init error: %v\n", err)
		os.Exit(1)
	}
	defer srv.Close()
	if err := srv.Serve(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "serve error: %v\n", err)
		os.Exit(1)
	}
}
