// Package mock provides a test double for the search.Provider interface.
//
// Use Provider in unit tests to feed controlled grounded answers without a
// live backend and to verify the queries handlers send. All fields are safe
// to set before calling any method; mutating them during a concurrent call is
// the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    Answer: &search.Answer{Text: "grounded answer"},
//	}
//	ans, err := p.Search(ctx, search.Query{Query: "q"})
package mock

import (
	"context"
	"sync"

	"github.com/shuymn/augur/pkg/provider/search"
)

// Call records a single invocation of Search.
type Call struct {
	// Ctx is the context passed to Search.
	Ctx context.Context
	// Query is the query passed to Search.
	Query search.Query
}

// Provider is a mock implementation of search.Provider.
// A nil Answer with a nil Err yields an empty (ungrounded) answer.
type Provider struct {
	mu sync.Mutex

	// Answer is returned from Search when Err is nil.
	Answer *search.Answer

	// Err, if non-nil, is returned from Search instead of Answer.
	Err error

	// Calls records every Search invocation in order.
	Calls []Call
}

var _ search.Provider = (*Provider)(nil)

// Search implements search.Provider.
func (p *Provider) Search(ctx context.Context, q search.Query) (*search.Answer, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Ctx: ctx, Query: q})
	p.mu.Unlock()

	if p.Err != nil {
		return nil, p.Err
	}
	if p.Answer != nil {
		return p.Answer, nil
	}
	return &search.Answer{}, nil
}

// CallCount returns the number of recorded Search invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
