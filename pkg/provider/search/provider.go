// Package search defines the Provider interface for grounded web search
// backends.
//
// A search provider wraps a remote model API that can answer a natural-
// language query using live web results (e.g., Gemini with the Google Search
// tool, or an OpenAI search-preview model) and exposes a uniform interface
// that returns the answer text together with the grounding metadata needed by
// [github.com/shuymn/augur/pkg/cite] to attach citations.
//
// Implementors must be safe for concurrent use and must propagate context
// cancellation promptly.
package search

import (
	"context"

	"github.com/shuymn/augur/pkg/cite"
)

// Query is one grounded search request.
type Query struct {
	// Query is the natural-language question to answer from the web.
	Query string

	// Model optionally overrides the provider's configured model for this
	// request. Empty means use the provider default.
	Model string
}

// Answer is the provider's grounded response.
type Answer struct {
	// Text is the generated answer, without citation markers.
	Text string

	// Sources lists the web sources backing the answer, in provider order.
	// Empty for ungrounded answers.
	Sources []cite.Source

	// Metadata carries the span-to-source mapping and the queries the
	// provider ran. Nil for ungrounded answers.
	Metadata *cite.Metadata
}

// Provider is the abstraction over any grounded web search backend.
type Provider interface {
	// Search answers q using live web results. The returned Answer is never
	// nil when error is nil.
	Search(ctx context.Context, q Query) (*Answer, error)
}
