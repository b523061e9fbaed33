package budget

import "sync"

// ModelUsage tracks running input/output token totals for one model within
// a session. The invoker records these totals but does not return them to
// the sandbox: tooling_info returns only the pricing table, and each tool
// response carries that call's own usage (SPEC_FULL supplement #2, grounded on
// caster_commons/tools/llm_usage_accumulator.py).
type ModelUsage struct {
	Model         string `json:"model"`
	InputTokens   int64  `json:"input_tokens"`
	OutputTokens  int64  `json:"output_tokens"`
}

// UsageAccumulator tracks per-model token usage and per-tool-provider call
// counts for a single session. It is separate from Validator because usage
// accounting survives even calls that don't carry a dollar cost (e.g.
// test_tool), while Validator only ever sees costed calls.
type UsageAccumulator struct {
	mu          sync.Mutex
	byModel     map[string]*ModelUsage
	byProvider  map[string]int64
}

// NewUsageAccumulator constructs an empty accumulator.
func NewUsageAccumulator() *UsageAccumulator {
	return &UsageAccumulator{
		byModel:    make(map[string]*ModelUsage),
		byProvider: make(map[string]int64),
	}
}

// RecordLLM adds input/output token counts for a model.
func (a *UsageAccumulator) RecordLLM(model string, inputTokens, outputTokens int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.byModel[model]
	if !ok {
		u = &ModelUsage{Model: model}
		a.byModel[model] = u
	}
	u.InputTokens += inputTokens
	u.OutputTokens += outputTokens
}

// RecordProviderCall increments the call counter for a tool provider
// (e.g. "search_web", "search_ai"), independent of cost.
func (a *UsageAccumulator) RecordProviderCall(provider string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byProvider[provider]++
}

// ModelUsageSnapshot returns a stable copy of per-model usage.
func (a *UsageAccumulator) ModelUsageSnapshot() []ModelUsage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ModelUsage, 0, len(a.byModel))
	for _, u := range a.byModel {
		out = append(out, *u)
	}
	return out
}

// ProviderCallCounts returns a stable copy of per-provider call counts.
func (a *UsageAccumulator) ProviderCallCounts() map[string]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int64, len(a.byProvider))
	for k, v := range a.byProvider {
		out[k] = v
	}
	return out
}
