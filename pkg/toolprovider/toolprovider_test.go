package toolprovider_test

import (
	"context"
	"testing"
	"time"

	"github.com/caster-hub/validator-core/pkg/runtime"
	"github.com/caster-hub/validator-core/pkg/toolprovider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakySearch struct {
	failuresLeft int
	calls        int
}

func (f *flakySearch) Search(ctx context.Context, req toolprovider.SearchRequest) (*toolprovider.SearchResponse, error) {
	f.calls++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return nil, runtime.New(runtime.ErrProviderTransient, "upstream 503")
	}
	return &toolprovider.SearchResponse{Items: []toolprovider.SearchResultItem{{ResultID: "r1"}}}, nil
}

func fastPolicy() toolprovider.RetryPolicy {
	return toolprovider.RetryPolicy{Attempts: 5, InitialMS: 1, MaxMS: 5, Jitter: 0}
}

func TestRetryingSearchProviderRecoversFromTransientFailures(t *testing.T) {
	inner := &flakySearch{failuresLeft: 2}
	p := toolprovider.NewRetryingSearchProvider(inner, fastPolicy())

	resp, err := p.Search(context.Background(), toolprovider.SearchRequest{Tool: "search_web", Query: "x"})
	require.NoError(t, err)
	assert.Len(t, resp.Items, 1)
	assert.Equal(t, 3, inner.calls)
}

type permanentlyBrokenSearch struct{ calls int }

func (f *permanentlyBrokenSearch) Search(ctx context.Context, req toolprovider.SearchRequest) (*toolprovider.SearchResponse, error) {
	f.calls++
	return nil, runtime.New(runtime.ErrMalformedRequest, "bad query")
}

func TestRetryingSearchProviderDoesNotRetryNonTransientErrors(t *testing.T) {
	inner := &permanentlyBrokenSearch{}
	p := toolprovider.NewRetryingSearchProvider(inner, fastPolicy())

	_, err := p.Search(context.Background(), toolprovider.SearchRequest{Tool: "search_web", Query: "x"})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls, "non-transient errors must not be retried")
}

type alwaysTransientSearch struct{ calls int }

func (f *alwaysTransientSearch) Search(ctx context.Context, req toolprovider.SearchRequest) (*toolprovider.SearchResponse, error) {
	f.calls++
	return nil, runtime.New(runtime.ErrProviderTransient, "still down")
}

func TestRetryingSearchProviderExhaustsAttempts(t *testing.T) {
	inner := &alwaysTransientSearch{}
	p := toolprovider.NewRetryingSearchProvider(inner, toolprovider.RetryPolicy{Attempts: 3, InitialMS: 1, MaxMS: 2, Jitter: 0})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := p.Search(ctx, toolprovider.SearchRequest{Tool: "search_web", Query: "x"})
	require.Error(t, err)
	assert.LessOrEqual(t, inner.calls, 3)
}

func TestDefaultRetryPolicyMatchesSpecLiterals(t *testing.T) {
	assert.Equal(t, 10, toolprovider.DefaultRetryPolicy.Attempts)
	assert.Equal(t, 1000, toolprovider.DefaultRetryPolicy.InitialMS)
	assert.Equal(t, 30000, toolprovider.DefaultRetryPolicy.MaxMS)
	assert.Equal(t, 0.2, toolprovider.DefaultRetryPolicy.Jitter)
}
