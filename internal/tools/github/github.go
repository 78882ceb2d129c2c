// Package github provides tools that proxy the GitHub REST API.
//
// Three tools are exported via [Client.Tools]:
//   - "github_api"   — a generic authenticated call to any GitHub endpoint.
//   - "search_repos" — repository search via /search/repositories.
//   - "get_user"     — user lookup via /users/{username}.
//
// Requests retry transparently on transient failures through
// [retryablehttp.Client]; responses are forwarded verbatim (status line plus
// raw body) so the caller sees exactly what GitHub returned, including API
// error payloads.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/shuymn/augur/internal/dispatch"
	"github.com/shuymn/augur/internal/tools"
)

const (
	// DefaultAPIBase is used when no base URL is configured. Override it for
	// GitHub Enterprise installations.
	DefaultAPIBase = "https://api.github.com"

	userAgent = "augur-github-proxy/1.0"

	// retryMax bounds transparent retries per request.
	retryMax = 2

	// maxResponseBytes caps how much of a response body is forwarded.
	maxResponseBytes = 1 << 20 // 1 MiB
)

// Config holds the GitHub proxy settings.
type Config struct {
	// APIBase is the API root. Empty means [DefaultAPIBase].
	APIBase string

	// Token is the default personal access token, used when a call does not
	// carry its own. Empty means unauthenticated requests.
	Token string
}

// Client proxies requests to the GitHub API. Safe for concurrent use.
type Client struct {
	http    *retryablehttp.Client
	apiBase string
	token   string
}

// New constructs a GitHub proxy client.
func New(cfg Config) *Client {
	base := strings.TrimSuffix(cfg.APIBase, "/")
	if base == "" {
		base = DefaultAPIBase
	}

	hc := retryablehttp.NewClient()
	hc.RetryMax = retryMax
	hc.Logger = nil

	return &Client{http: hc, apiBase: base, token: cfg.Token}
}

// apiArgs is the validated input for the "github_api" tool.
type apiArgs struct {
	// Endpoint is a path like "/users/octocat" or a full URL.
	Endpoint string `json:"endpoint"`

	// Method is the HTTP method; empty means GET.
	Method string `json:"method,omitempty"`

	// Token overrides the configured default token for this call.
	Token string `json:"token,omitempty"`

	// Body is JSON-encoded and sent for POST/PUT/PATCH requests.
	Body map[string]any `json:"body,omitempty"`

	// Headers are extra request headers, applied last.
	Headers map[string]string `json:"headers,omitempty"`
}

// searchReposArgs is the validated input for the "search_repos" tool.
type searchReposArgs struct {
	Query   string `json:"query"`
	Sort    string `json:"sort,omitempty"`
	Order   string `json:"order,omitempty"`
	PerPage int    `json:"per_page,omitempty"`
	Page    int    `json:"page,omitempty"`
}

// getUserArgs is the validated input for the "get_user" tool.
type getUserArgs struct {
	Username string `json:"username"`
}

// call performs one proxied request and formats the response as
// "Status: <status>\n\n<body>".
func (c *Client) call(ctx context.Context, a apiArgs) (string, error) {
	full := a.Endpoint
	if !strings.HasPrefix(full, "http") {
		full = c.apiBase + "/" + strings.TrimPrefix(a.Endpoint, "/")
	}
	if _, err := url.Parse(full); err != nil {
		return "", fmt.Errorf("github: invalid URL %q: %w", full, err)
	}

	method := a.Method
	if method == "" {
		method = "GET"
	}

	var reqBody io.Reader
	if len(a.Body) > 0 {
		data, err := json.Marshal(a.Body)
		if err != nil {
			return "", fmt.Errorf("github: encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, full, reqBody)
	if err != nil {
		return "", fmt.Errorf("github: create request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token := a.Token
	if token == "" {
		token = c.token
	}
	if token != "" {
		req.Header.Set("Authorization", "token "+token)
	}
	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("github: request %s %s: %w", method, full, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("github: read response: %w", err)
	}

	return fmt.Sprintf("Status: %s\n\n%s", resp.Status, body), nil
}

// apiHandler implements the "github_api" tool.
func (c *Client) apiHandler(ctx context.Context, input map[string]any) (any, error) {
	var a apiArgs
	if err := tools.Decode(input, &a); err != nil {
		return nil, err
	}
	return c.call(ctx, a)
}

// searchReposHandler implements the "search_repos" tool by delegating to the
// generic caller with a built /search/repositories query.
func (c *Client) searchReposHandler(ctx context.Context, input map[string]any) (any, error) {
	var a searchReposArgs
	if err := tools.Decode(input, &a); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("q", a.Query)
	if a.Sort != "" {
		q.Set("sort", a.Sort)
	}
	if a.Order != "" {
		q.Set("order", a.Order)
	}
	if a.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(a.PerPage))
	}
	if a.Page > 0 {
		q.Set("page", strconv.Itoa(a.Page))
	}

	return c.call(ctx, apiArgs{Endpoint: "/search/repositories?" + q.Encode()})
}

// getUserHandler implements the "get_user" tool.
func (c *Client) getUserHandler(ctx context.Context, input map[string]any) (any, error) {
	var a getUserArgs
	if err := tools.Decode(input, &a); err != nil {
		return nil, err
	}
	return c.call(ctx, apiArgs{Endpoint: "/users/" + url.PathEscape(a.Username)})
}

// stringOutput is the shared output schema: the formatted response text.
var stringOutput = &jsonschema.Schema{Type: "string"}

// Tools returns the GitHub proxy tools ready for registration with the
// dispatch runtime.
func (c *Client) Tools() []tools.Tool {
	return []tools.Tool{
		{
			Definition: dispatch.Definition{
				Name:        "github_api",
				Description: "Make a generic GitHub API call. Returns the status line and raw response body.",
				Input: map[string]*jsonschema.Schema{
					"endpoint": {
						Type:        "string",
						Description: "API endpoint path (e.g. /users/octocat) or a full URL.",
					},
					"method": {
						Type:        "string",
						Description: "HTTP method. Defaults to GET.",
						Enum:        []any{"GET", "POST", "PUT", "DELETE", "PATCH"},
					},
					"token": {
						Type:        "string",
						Description: "GitHub personal access token. Falls back to the server's configured token.",
					},
					"body": {
						Type:        "object",
						Description: "JSON request body for POST/PUT/PATCH requests.",
					},
					"headers": {
						Type:        "object",
						Description: "Additional request headers.",
						AdditionalProperties: &jsonschema.Schema{
							Type: "string",
						},
					},
				},
				Required: []string{"endpoint"},
				Output:   stringOutput,
			},
			Handler: c.apiHandler,
		},
		{
			Definition: dispatch.Definition{
				Name:        "search_repos",
				Description: "Search GitHub repositories.",
				Input: map[string]*jsonschema.Schema{
					"query": {
						Type:        "string",
						Description: "Search query (e.g. 'language:go stars:>1000').",
					},
					"sort": {
						Type:        "string",
						Description: "Sort field.",
						Enum:        []any{"stars", "forks", "help-wanted-issues", "updated"},
					},
					"order": {
						Type:        "string",
						Description: "Sort order.",
						Enum:        []any{"asc", "desc"},
					},
					"per_page": {
						Type:        "integer",
						Description: "Results per page (max 100).",
					},
					"page": {
						Type:        "integer",
						Description: "Page number.",
					},
				},
				Required: []string{"query"},
				Output:   stringOutput,
			},
			Handler: c.searchReposHandler,
		},
		{
			Definition: dispatch.Definition{
				Name:        "get_user",
				Description: "Get GitHub user information.",
				Input: map[string]*jsonschema.Schema{
					"username": {
						Type:        "string",
						Description: "GitHub username.",
					},
				},
				Required: []string{"username"},
				Output:   stringOutput,
			},
			Handler: c.getUserHandler,
		},
	}
}
