// Package tooling describes the fixed catalog of tools a sandboxed
// candidate may invoke through the runtime tool invoker (spec §4.9), their
// pricing model, and the JSON normalization applied to provider responses
// before they cross back into the sandbox.
//
// Grounded on github.com/Mindburn-Labs/helm/core/pkg/tooling
// (descriptor.go, normalization.go): the catalog replaces the teacher's
// generic fingerprinted ToolDescriptor/ToolRegistry with the fixed,
// spec-defined tool set, since candidates never register new tools at
// runtime; the canonical-JSON normalization algorithm is kept close to
// verbatim, as it solves exactly the "scalars/arrays/objects, else
// stringify" rule spec §4.9 step 6 requires.
package tooling

import "fmt"

// Kind classifies a tool for pricing and citation purposes (spec §4.9).
type Kind string

const (
	KindSearch        Kind = "search"
	KindLLM           Kind = "llm"
	KindDiagnostic    Kind = "diagnostic"
	KindIntrospection Kind = "introspection"
)

// PricingModel describes how a tool's cost is computed.
type PricingModel string

const (
	PricingFlatPerCall   PricingModel = "flat_per_call"
	PricingPerResult     PricingModel = "per_result"
	PricingTokenTariff   PricingModel = "token_tariff"
	PricingFree          PricingModel = "free"
)

// Descriptor is a catalog entry for one tool.
type Descriptor struct {
	Name         string
	Kind         Kind
	Pricing      PricingModel
	FlatRateUSD  float64 // used when Pricing == PricingFlatPerCall
	PerResultUSD float64 // used when Pricing == PricingPerResult
	Cited        bool    // whether results from this tool may be cited (spec §3, §8)
}

// searchItemsFlatRateUSD is the one flat rate the spec pins a literal
// number to (spec §4.9 table); the other flat and per-result rates are
// the fixed literals in the catalog below and cannot be overridden.
const searchItemsFlatRateUSD = 0.0025

// catalog is the fixed tool set. Order mirrors the spec §4.9 table.
var catalog = map[string]Descriptor{
	"search_web":    {Name: "search_web", Kind: KindSearch, Pricing: PricingFlatPerCall, FlatRateUSD: 0.001, Cited: true},
	"search_x":      {Name: "search_x", Kind: KindSearch, Pricing: PricingFlatPerCall, FlatRateUSD: 0.001, Cited: true},
	"search_ai":     {Name: "search_ai", Kind: KindSearch, Pricing: PricingPerResult, PerResultUSD: 0.0015, Cited: true},
	"search_repo":   {Name: "search_repo", Kind: KindSearch, Pricing: PricingFlatPerCall, FlatRateUSD: 0.001, Cited: true},
	"get_repo_file": {Name: "get_repo_file", Kind: KindSearch, Pricing: PricingFlatPerCall, FlatRateUSD: 0.0005, Cited: true},
	"search_items":  {Name: "search_items", Kind: KindSearch, Pricing: PricingFlatPerCall, FlatRateUSD: searchItemsFlatRateUSD, Cited: true},
	"llm_chat":      {Name: "llm_chat", Kind: KindLLM, Pricing: PricingTokenTariff, Cited: false},
	"test_tool":     {Name: "test_tool", Kind: KindDiagnostic, Pricing: PricingFree, Cited: false},
	"tooling_info":  {Name: "tooling_info", Kind: KindIntrospection, Pricing: PricingFree, Cited: false},
}

// Lookup resolves a tool by name (spec §4.9 step 1: "Resolve tool by
// name; unknown → UNKNOWN_TOOL").
func Lookup(name string) (Descriptor, bool) {
	d, ok := catalog[name]
	return d, ok
}

// Names returns the full catalog's tool names in table order.
func Names() []string {
	return []string{
		"search_web", "search_x", "search_ai", "search_repo",
		"get_repo_file", "search_items", "llm_chat", "test_tool", "tooling_info",
	}
}

// PricingEntry is one row of the static pricing dictionary the
// tooling_info tool returns (spec §4.9: "tooling_info returns the static
// pricing dictionary so the sandboxed agent can budget before calling").
type PricingEntry struct {
	Tool    string       `json:"tool"`
	Kind    Kind         `json:"kind"`
	Pricing PricingModel `json:"pricing"`
	RateUSD float64      `json:"rate_usd,omitempty"`
	Cited   bool         `json:"cited"`
}

// PricingTable builds the tooling_info response payload (SPEC_FULL
// supplement #1, grounded on the original implementation's
// tooling_info pricing dictionary shape).
func PricingTable() []PricingEntry {
	out := make([]PricingEntry, 0, len(catalog))
	for _, name := range Names() {
		d := catalog[name]
		entry := PricingEntry{Tool: d.Name, Kind: d.Kind, Pricing: d.Pricing, Cited: d.Cited}
		switch d.Pricing {
		case PricingFlatPerCall:
			entry.RateUSD = d.FlatRateUSD
		case PricingPerResult:
			entry.RateUSD = d.PerResultUSD
		}
		out = append(out, entry)
	}
	return out
}

// ProjectedCost computes the pessimistic upper-bound cost for a call
// before it is dispatched (spec §4.9 step 4).
func ProjectedCost(name string, requestedCount int, requestedMaxOutputTokens, estimatedInputTokens int64, tariff ModelTariff) (float64, error) {
	d, ok := Lookup(name)
	if !ok {
		return 0, fmt.Errorf("unknown tool %q", name)
	}
	switch d.Pricing {
	case PricingFlatPerCall:
		return d.FlatRateUSD, nil
	case PricingPerResult:
		if requestedCount <= 0 {
			requestedCount = 1
		}
		return d.PerResultUSD * float64(requestedCount), nil
	case PricingTokenTariff:
		return float64(estimatedInputTokens)*tariff.InputUSDPerToken + float64(requestedMaxOutputTokens)*tariff.OutputUSDPerToken, nil
	case PricingFree:
		return 0, nil
	default:
		return 0, fmt.Errorf("tool %q has no pricing model", name)
	}
}

// ModelTariff prices one unit of LLM input/output token usage. Mirrors
// budget.ModelTariff's shape; kept as a separate type here so the tooling
// package has no import dependency on pkg/budget.
type ModelTariff struct {
	Model             string
	InputUSDPerToken  float64
	OutputUSDPerToken float64
}

// ActualCost computes the realized cost from returned usage, for the
// tools whose billing depends on what the provider actually reports
// (spec §4.9 step 7).
func ActualCost(name string, resultCount int, inputTokens, outputTokens int64, tariff ModelTariff) (float64, error) {
	d, ok := Lookup(name)
	if !ok {
		return 0, fmt.Errorf("unknown tool %q", name)
	}
	switch d.Pricing {
	case PricingFlatPerCall:
		return d.FlatRateUSD, nil
	case PricingPerResult:
		return d.PerResultUSD * float64(resultCount), nil
	case PricingTokenTariff:
		return float64(inputTokens)*tariff.InputUSDPerToken + float64(outputTokens)*tariff.OutputUSDPerToken, nil
	case PricingFree:
		return 0, nil
	default:
		return 0, fmt.Errorf("tool %q has no pricing model", name)
	}
}
