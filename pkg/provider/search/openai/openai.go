// Package openai provides a grounded web search provider backed by the
// OpenAI chat completions API with web search enabled.
//
// URL-citation annotations on the response message are translated into cite
// sources and span supports so the web_search tool can annotate the answer.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/shuymn/augur/pkg/cite"
	"github.com/shuymn/augur/pkg/provider/search"
)

// defaultModel is used when neither the provider config nor the query names
// a model. Web search requires a search-preview model family.
const defaultModel = "gpt-4o-search-preview"

// Provider implements search.Provider using the OpenAI API.
type Provider struct {
	client            oai.Client
	model             string
	searchContextSize string
}

var _ search.Provider = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	model             string
	baseURL           string
	searchContextSize string
	timeout           time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel sets the default model for all queries.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithSearchContextSize sets how much search context the model retrieves.
// Valid values are "low", "medium", and "high"; the API default is "medium".
func WithSearchContextSize(size string) Option {
	return func(c *config) {
		c.searchContextSize = size
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs an OpenAI search provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client:            oai.NewClient(reqOpts...),
		model:             cfg.model,
		searchContextSize: cfg.searchContextSize,
	}, nil
}

// Search implements search.Provider. It issues a single chat completion with
// web search options and translates url_citation annotations into cite types.
func (p *Provider) Search(ctx context.Context, q search.Query) (*search.Answer, error) {
	model := q.Model
	if model == "" {
		model = p.model
	}

	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.UserMessage(q.Query),
		},
		WebSearchOptions: oai.ChatCompletionNewParamsWebSearchOptions{
			SearchContextSize: p.searchContextSize,
		},
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	msg := resp.Choices[0].Message
	ans := &search.Answer{Text: msg.Content}

	for _, a := range msg.Annotations {
		if a.Type != "url_citation" {
			continue
		}
		ans.Sources = append(ans.Sources, cite.Source{
			Title: a.URLCitation.Title,
			URL:   a.URLCitation.URL,
		})
		end := int(a.URLCitation.EndIndex)
		if ans.Metadata == nil {
			ans.Metadata = &cite.Metadata{}
		}
		ans.Metadata.Supports = append(ans.Metadata.Supports, cite.Support{
			SegmentEndIndex: &end,
			ChunkIndices:    []int{len(ans.Sources) - 1},
		})
	}

	return ans, nil
}
