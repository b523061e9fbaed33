// Package toolprovider declares the capability-record ports the runtime
// tool invoker delegates to (search, LLM, diagnostic), and wraps them
// with the exponential-backoff retry policy spec §7 mandates for
// PROVIDER_TRANSIENT failures.
//
// Grounded on spec §9 ("Ports, not inheritance... Provider abstractions
// are capability records") and on the teacher's
// github.com/Mindburn-Labs/helm/core/pkg/kernel/retry for the
// RetryPolicy-as-a-value shape; the retry implementation itself uses
// github.com/cenkalti/backoff/v5 rather than kernel/retry's deterministic
// jitter, since that jitter is seeded for reproducible replay and is
// unsuitable for live network calls against real search/LLM providers
// (documented in SPEC_FULL.md's DOMAIN STACK table).
package toolprovider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/caster-hub/validator-core/pkg/runtime"
)

// RetryPolicy is a plain record describing exponential backoff with
// jitter (spec §7, §9): backoff = min(initial*2^attempt, max) ± jitter
// fraction, clamped >= 0.
type RetryPolicy struct {
	Attempts  int
	InitialMS int
	MaxMS     int
	Jitter    float64
}

// DefaultRetryPolicy is the policy spec §7 pins literal numbers to.
var DefaultRetryPolicy = RetryPolicy{Attempts: 10, InitialMS: 1000, MaxMS: 30000, Jitter: 0.2}

func (p RetryPolicy) toBackoff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Duration(p.InitialMS) * time.Millisecond
	eb.MaxInterval = time.Duration(p.MaxMS) * time.Millisecond
	eb.RandomizationFactor = p.Jitter
	eb.Multiplier = 2.0
	return eb
}

// SearchRequest is the provider-agnostic request the invoker builds for
// any search-family tool (search_web, search_x, search_ai, search_repo,
// get_repo_file, search_items).
type SearchRequest struct {
	Tool  string
	Query string
	Count int
	Extra map[string]interface{}
}

// SearchResultItem is one provider-returned result before it is mapped
// into a receipts.SearchToolResult.
type SearchResultItem struct {
	ResultID string
	URL      string
	Title    string
	Note     string
	Raw      map[string]interface{}
}

// SearchResponse is what a search provider returns.
type SearchResponse struct {
	Items []SearchResultItem
}

// SearchProvider is the capability record a search-family tool delegates to.
type SearchProvider interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// LLMRequest is the provider-agnostic request for llm_chat.
type LLMRequest struct {
	Model          string
	Messages       []LLMMessage
	MaxOutputTokens int64
}

type LLMMessage struct {
	Role    string
	Content string
}

// LLMResponse carries the model's reply and the usage the budget
// validator needs to compute actual cost.
type LLMResponse struct {
	Content      string
	InputTokens  int64
	OutputTokens int64
}

// LLMProvider is the capability record llm_chat delegates to.
type LLMProvider interface {
	Chat(ctx context.Context, req LLMRequest) (*LLMResponse, error)
}

// RetryingSearchProvider wraps a SearchProvider with the spec §7 backoff
// policy; it only retries errors tagged ErrProviderTransient.
type RetryingSearchProvider struct {
	inner  SearchProvider
	policy RetryPolicy
}

func NewRetryingSearchProvider(inner SearchProvider, policy RetryPolicy) *RetryingSearchProvider {
	return &RetryingSearchProvider{inner: inner, policy: policy}
}

func (p *RetryingSearchProvider) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	return backoff.Retry(ctx, func() (*SearchResponse, error) {
		resp, err := p.inner.Search(ctx, req)
		if err != nil && runtime.KindOf(err) == runtime.ErrProviderTransient {
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return resp, nil
	}, backoff.WithBackOff(p.policy.toBackoff()), backoff.WithMaxTries(uint(p.policy.Attempts)))
}

// RetryingLLMProvider wraps an LLMProvider the same way.
type RetryingLLMProvider struct {
	inner  LLMProvider
	policy RetryPolicy
}

func NewRetryingLLMProvider(inner LLMProvider, policy RetryPolicy) *RetryingLLMProvider {
	return &RetryingLLMProvider{inner: inner, policy: policy}
}

func (p *RetryingLLMProvider) Chat(ctx context.Context, req LLMRequest) (*LLMResponse, error) {
	return backoff.Retry(ctx, func() (*LLMResponse, error) {
		resp, err := p.inner.Chat(ctx, req)
		if err != nil && runtime.KindOf(err) == runtime.ErrProviderTransient {
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return resp, nil
	}, backoff.WithBackOff(p.policy.toBackoff()), backoff.WithMaxTries(uint(p.policy.Attempts)))
}
