// Package server mounts the dispatch runtime onto an MCP server.
//
// It bridges between the two protocol layers:
//
//   - every [dispatch.Definition] becomes an MCP tool whose handler funnels
//     the caller's raw arguments through [dispatch.Runtime.Invoke];
//   - dispatch's error taxonomy is surfaced as IsError text results so LLM
//     callers can read and react to validation or timeout failures;
//   - the runtime's health snapshot, server info, and GitHub proxy docs are
//     exposed as MCP resources.
//
// A Server can run over stdio, streamable HTTP, or both at once. In HTTP mode
// the same listener also serves Prometheus metrics and health probes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/shuymn/augur/internal/audit"
	"github.com/shuymn/augur/internal/dispatch"
	"github.com/shuymn/augur/internal/health"
	"github.com/shuymn/augur/internal/observe"
)

// shutdownGrace is how long the HTTP listener gets to drain in-flight
// requests after the serve context is cancelled.
const shutdownGrace = 10 * time.Second

// auditTimeout bounds each audit write so a slow database never delays or
// outlives the response path by much.
const auditTimeout = 5 * time.Second

// AuditLog records completed tool invocations. *audit.Store satisfies it;
// tests substitute lighter fakes.
type AuditLog interface {
	Record(ctx context.Context, inv audit.Invocation) error
}

// Server exposes a [dispatch.Runtime] over the Model Context Protocol.
// Create instances with [New]; the zero value is not usable.
type Server struct {
	rt      *dispatch.Runtime
	mcp     *mcp.Server
	metrics *observe.Metrics
	health  *health.Handler
	audit   AuditLog

	version    string
	githubDocs string // non-empty mounts the github://api-docs resource
}

// Option configures a [Server].
type Option func(*Server)

// WithVersion sets the version string advertised during the MCP handshake
// and in the augur://info resource. Default "dev".
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithMetrics sets the metrics instance invocations are recorded into.
// Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithAudit enables the invocation audit trail. Nil disables it (the
// default).
func WithAudit(log AuditLog) Option {
	return func(s *Server) { s.audit = log }
}

// WithHealthCheckers sets the readiness checkers served on /readyz in HTTP
// mode.
func WithHealthCheckers(checkers ...health.Checker) Option {
	return func(s *Server) { s.health = health.New(checkers...) }
}

// WithGitHubDocs mounts the github://api-docs resource describing the GitHub
// proxy tools. apiBase is the configured API root; tokenSet reports whether a
// default token is configured (the token itself is never exposed).
func WithGitHubDocs(apiBase string, tokenSet bool) Option {
	return func(s *Server) { s.githubDocs = githubDocsText(apiBase, tokenSet) }
}

// New builds a Server from the runtime: every registered tool definition is
// mounted as an MCP tool, and the standard resources are attached.
func New(rt *dispatch.Runtime, opts ...Option) *Server {
	s := &Server{
		rt:      rt,
		version: "dev",
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.health == nil {
		s.health = health.New()
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{Name: "augur", Version: s.version}, nil)

	for _, def := range rt.Definitions() {
		s.mcp.AddTool(&mcp.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema(),
		}, s.toolHandler(def.Name))
	}

	s.addResources()
	return s
}

// Run serves MCP on the enabled transports until ctx is cancelled or one
// transport fails. stdio and HTTP can run simultaneously; at least one must
// be enabled.
func (s *Server) Run(ctx context.Context, stdio bool, listenAddr string) error {
	if !stdio && listenAddr == "" {
		return errors.New("server: no transport enabled")
	}

	g, gctx := errgroup.WithContext(ctx)

	if stdio {
		g.Go(func() error {
			return s.mcp.Run(gctx, &mcp.StdioTransport{})
		})
	}
	if listenAddr != "" {
		g.Go(func() error {
			return s.serveHTTP(gctx, listenAddr)
		})
	}

	return g.Wait()
}

// Connect attaches the server to a single transport and returns the session.
// Used by tests and embedders that manage sessions themselves.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}

// Handler returns the streamable-HTTP handler for the MCP endpoint.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcp
	}, nil)
}

// serveHTTP runs the HTTP side: the MCP endpoint under /mcp plus metrics and
// health routes, all wrapped in the tracing middleware.
func (s *Server) serveHTTP(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/mcp", s.Handler())
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)

	srv := &http.Server{
		Addr:    addr,
		Handler: observe.Middleware(s.metrics)(mux),
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server: http listener: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: http shutdown: %w", err)
		}
		return ctx.Err()
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Tool bridge
// ─────────────────────────────────────────────────────────────────────────────

// toolHandler adapts one dispatch tool into an MCP tool handler.
func (s *Server) toolHandler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := rawArguments(req.Params.Arguments)
		if err != nil {
			return errorResult(fmt.Errorf("decode arguments: %w", err)), nil
		}

		ctx, finish := observe.ToolSpan(ctx, name)
		s.metrics.ActiveInvocations.Add(ctx, 1)

		start := time.Now()
		env, err := s.rt.Invoke(ctx, name, raw)
		elapsed := time.Since(start)

		s.metrics.ActiveInvocations.Add(ctx, -1)
		st := invocationStatus(err)
		finish(st)
		s.metrics.RecordInvocation(ctx, name, st, elapsed.Seconds())
		s.recordAudit(ctx, name, st, elapsed)

		if err != nil {
			// Caller cancellation is a protocol-level failure, not a tool
			// result the LLM should read.
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil, err
			}
			observe.Logger(ctx).Warn("tool invocation failed",
				"tool", name, "status", st, "err", err)
			return errorResult(err), nil
		}

		content := make([]mcp.Content, 0, len(env.Content))
		for _, c := range env.Content {
			content = append(content, &mcp.TextContent{Text: c.Text})
		}
		return &mcp.CallToolResult{Content: content}, nil
	}
}

// rawArguments normalises the SDK's argument payload to raw JSON. Handlers
// installed via AddTool receive json.RawMessage, but client-side constructed
// params (in-memory transports) may carry decoded values.
func rawArguments(v any) (json.RawMessage, error) {
	switch a := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return a, nil
	default:
		return json.Marshal(a)
	}
}

// errorResult converts a dispatch error into an IsError text result so the
// calling LLM can read the failure and correct its arguments.
func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}

// invocationStatus maps a dispatch error to the status label used in metrics
// and the audit trail.
func invocationStatus(err error) string {
	if err == nil {
		return "ok"
	}
	var (
		inputErr   *dispatch.InputValidationError
		timeoutErr *dispatch.TimeoutError
		unknownErr *dispatch.UnknownToolError
	)
	switch {
	case errors.As(err, &inputErr):
		return "invalid_input"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &unknownErr):
		return "unknown_tool"
	default:
		return "error"
	}
}

// recordAudit writes one audit row. It detaches from the request context so
// a timed-out invocation is still recorded, but bounds the write itself.
func (s *Server) recordAudit(ctx context.Context, tool, status string, elapsed time.Duration) {
	if s.audit == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := s.audit.Record(actx, audit.Invocation{
		Tool:     tool,
		Status:   status,
		Duration: elapsed,
	}); err != nil {
		observe.Logger(ctx).Warn("audit record failed", "tool", tool, "err", err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Resources
// ─────────────────────────────────────────────────────────────────────────────

func (s *Server) addResources() {
	s.mcp.AddResource(&mcp.Resource{
		URI:         "augur://info",
		Name:        "Server Information",
		Description: "Basic information about this augur server and its tools",
		MIMEType:    "text/plain",
	}, s.readInfo)

	s.mcp.AddResource(&mcp.Resource{
		URI:         "augur://stats",
		Name:        "Tool Statistics",
		Description: "Per-tool call counts, error rates, and latency percentiles",
		MIMEType:    "application/json",
	}, s.readStats)

	if s.githubDocs != "" {
		docs := s.githubDocs
		s.mcp.AddResource(&mcp.Resource{
			URI:         "github://api-docs",
			Name:        "GitHub API Documentation",
			Description: "Information about using the GitHub proxy tools",
			MIMEType:    "text/plain",
		}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return textResource("github://api-docs", docs), nil
		})
	}
}

func (s *Server) readInfo(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "augur\n=====\nVersion: %s\n\nAvailable Tools:\n", s.version)
	for _, def := range s.rt.Definitions() {
		if budget := s.rt.Timeout(def.Name); budget > 0 {
			fmt.Fprintf(&b, "- %s: %s (timeout %s)\n", def.Name, def.Description, budget)
		} else {
			fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
		}
	}
	return textResource("augur://info", b.String()), nil
}

func (s *Server) readStats(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(s.rt.Stats(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("server: marshal stats: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{URI: "augur://stats", MIMEType: "application/json", Text: string(data)},
		},
	}, nil
}

func textResource(uri, text string) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{URI: uri, MIMEType: "text/plain", Text: text},
		},
	}
}

// githubDocsText renders the github://api-docs resource body.
func githubDocsText(apiBase string, tokenSet bool) string {
	tokenState := "Not configured"
	if tokenSet {
		tokenState = "Configured"
	}
	return fmt.Sprintf(`GitHub Proxy Tools
==================

This server proxies the GitHub API with the following tools:

1. github_api - Make generic GitHub API calls
   - endpoint: API endpoint path or full URL
   - method: HTTP method (default: GET)
   - token: GitHub personal access token (optional, uses the configured default if not provided)
   - body: Request body for POST/PUT/PATCH
   - headers: Additional headers

2. search_repos - Search GitHub repositories
   - query: Search query (required)
   - sort: Sort by (stars, forks, help-wanted-issues, updated)
   - order: Order (asc, desc)
   - per_page: Results per page
   - page: Page number

3. get_user - Get GitHub user information
   - username: GitHub username (required)

Configuration:
- API Base: %s
- Default Token: %s

Rate Limiting:
- Unauthenticated: 60 requests/hour
- Authenticated: 5,000 requests/hour`, apiBase, tokenState)
}
