// Package websearch provides the "web_search" tool: a grounded web search
// backed by an injected [search.Provider], with citation markers and a source
// list merged into the answer by [cite.Apply].
package websearch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/shuymn/augur/internal/dispatch"
	"github.com/shuymn/augur/internal/observe"
	"github.com/shuymn/augur/internal/tools"
	"github.com/shuymn/augur/pkg/cite"
	"github.com/shuymn/augur/pkg/provider/search"
)

// searchArgs is the validated input for the "web_search" tool.
type searchArgs struct {
	// Query is the natural-language question to answer from the web.
	Query string `json:"query"`

	// Model optionally overrides the provider's configured model.
	Model string `json:"model,omitempty"`
}

// config holds optional configuration for the tool.
type config struct {
	metrics  *observe.Metrics
	provider string
}

// Option configures the tools returned by [Tools].
type Option func(*config)

// WithMetrics records every provider request into m: the status and latency
// of each call, labelled with the given provider name.
func WithMetrics(m *observe.Metrics, provider string) Option {
	return func(c *config) {
		c.metrics = m
		c.provider = provider
	}
}

// handler closes over the provider so the tool stays a plain dispatch.Handler.
func handler(p search.Provider, cfg config) dispatch.Handler {
	return func(ctx context.Context, input map[string]any) (any, error) {
		var a searchArgs
		if err := tools.Decode(input, &a); err != nil {
			return nil, err
		}

		start := time.Now()
		ans, err := p.Search(ctx, search.Query{Query: a.Query, Model: a.Model})
		if cfg.metrics != nil {
			status := "ok"
			if err != nil {
				status = "error"
				cfg.metrics.RecordProviderError(ctx, cfg.provider)
			}
			cfg.metrics.RecordProviderRequest(ctx, cfg.provider, status, time.Since(start).Seconds())
		}
		if err != nil {
			return nil, fmt.Errorf("websearch: %w", err)
		}

		return cite.Apply(ans.Text, ans.Sources, ans.Metadata), nil
	}
}

// Tools returns the web search tool bound to p, ready for registration with
// the dispatch runtime.
func Tools(p search.Provider, opts ...Option) []tools.Tool {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}

	return []tools.Tool{
		{
			Definition: dispatch.Definition{
				Name:        "web_search",
				Description: "Answer a question using live web search. The answer carries inline citation markers and a numbered source list.",
				Input: map[string]*jsonschema.Schema{
					"query": {
						Type:        "string",
						Description: "The question to answer from the web.",
					},
					"model": {
						Type:        "string",
						Description: "Optional model override for this query.",
					},
				},
				Required: []string{"query"},
				Output:   &jsonschema.Schema{Type: "string"},
			},
			Handler: handler(p, cfg),
		},
	}
}
