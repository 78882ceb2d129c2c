// Package gemini provides a grounded web search provider backed by the
// Gemini API's Google Search tool.
//
// Answers come back with grounding metadata (source chunks, span supports,
// and the queries the model ran), which is translated into the cite types so
// the web_search tool can annotate the answer with citations.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/shuymn/augur/pkg/cite"
	"github.com/shuymn/augur/pkg/provider/search"
)

// defaultModel is used when neither the provider config nor the query names
// a model.
const defaultModel = "gemini-2.5-flash"

// Provider implements search.Provider using the Gemini API.
type Provider struct {
	client *genai.Client
	model  string
}

var _ search.Provider = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	model   string
	baseURL string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel sets the default model for all queries.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithBaseURL overrides the default Gemini API endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// New constructs a Gemini search provider.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.baseURL
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Provider{client: client, model: cfg.model}, nil
}

// Search implements search.Provider. It issues a single GenerateContent call
// with the GoogleSearch tool enabled and translates the candidate's grounding
// metadata into cite types.
func (p *Provider) Search(ctx context.Context, q search.Query) (*search.Answer, error) {
	model := q.Model
	if model == "" {
		model = p.model
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(q.Query), &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: empty candidates in response")
	}

	ans := &search.Answer{Text: resp.Text()}
	if gm := resp.Candidates[0].GroundingMetadata; gm != nil {
		ans.Sources, ans.Metadata = translateGrounding(gm)
	}
	return ans, nil
}

// translateGrounding converts the SDK's grounding metadata into cite types.
// Supports with a missing segment or no chunk indices are passed through with
// the corresponding field unset; cite.Apply drops them.
func translateGrounding(gm *genai.GroundingMetadata) ([]cite.Source, *cite.Metadata) {
	sources := make([]cite.Source, 0, len(gm.GroundingChunks))
	for _, chunk := range gm.GroundingChunks {
		if chunk == nil || chunk.Web == nil {
			// Keep positional alignment: chunk indices in supports refer to
			// this slice by position.
			sources = append(sources, cite.Source{})
			continue
		}
		sources = append(sources, cite.Source{Title: chunk.Web.Title, URL: chunk.Web.URI})
	}

	meta := &cite.Metadata{WebSearchQueries: gm.WebSearchQueries}
	for _, sup := range gm.GroundingSupports {
		if sup == nil {
			continue
		}
		s := cite.Support{}
		if sup.Segment != nil {
			end := int(sup.Segment.EndIndex)
			s.SegmentEndIndex = &end
		}
		for _, idx := range sup.GroundingChunkIndices {
			s.ChunkIndices = append(s.ChunkIndices, int(idx))
		}
		meta.Supports = append(meta.Supports, s)
	}

	return sources, meta
}
