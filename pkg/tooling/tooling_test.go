package tooling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupKnownAndUnknown(t *testing.T) {
	d, ok := Lookup("search_items")
	require.True(t, ok)
	assert.Equal(t, KindSearch, d.Kind)
	assert.Equal(t, 0.0025, d.FlatRateUSD)
	assert.True(t, d.Cited)

	_, ok = Lookup("not_a_real_tool")
	assert.False(t, ok)
}

func TestLLMChatIsNotCited(t *testing.T) {
	d, ok := Lookup("llm_chat")
	require.True(t, ok)
	assert.False(t, d.Cited)
	assert.Equal(t, PricingTokenTariff, d.Pricing)
}

func TestPricingTableCoversFullCatalog(t *testing.T) {
	table := PricingTable()
	assert.Len(t, table, len(Names()))
	seen := make(map[string]bool)
	for _, e := range table {
		seen[e.Tool] = true
	}
	for _, n := range Names() {
		assert.True(t, seen[n], "missing pricing entry for %s", n)
	}
}

func TestProjectedCostFlatPerCall(t *testing.T) {
	cost, err := ProjectedCost("search_web", 0, 0, 0, ModelTariff{})
	require.NoError(t, err)
	assert.Equal(t, 0.001, cost)
}

func TestProjectedCostPerResult(t *testing.T) {
	cost, err := ProjectedCost("search_ai", 4, 0, 0, ModelTariff{})
	require.NoError(t, err)
	assert.InDelta(t, 0.006, cost, 1e-9)
}

func TestProjectedCostTokenTariff(t *testing.T) {
	tariff := ModelTariff{Model: "gpt-x", InputUSDPerToken: 0.00001, OutputUSDPerToken: 0.00003}
	cost, err := ProjectedCost("llm_chat", 0, 100, 50, tariff)
	require.NoError(t, err)
	assert.InDelta(t, 50*0.00001+100*0.00003, cost, 1e-9)
}

func TestProjectedCostUnknownTool(t *testing.T) {
	_, err := ProjectedCost("bogus", 0, 0, 0, ModelTariff{})
	assert.Error(t, err)
}

func TestActualCostDiagnosticAndIntrospectionAreFree(t *testing.T) {
	for _, name := range []string{"test_tool", "tooling_info"} {
		cost, err := ActualCost(name, 0, 0, 0, ModelTariff{})
		require.NoError(t, err)
		assert.Zero(t, cost)
	}
}

func TestCanonicalJSONKeysSorted(t *testing.T) {
	input := map[string]interface{}{"zebra": 1, "alpha": 2, "beta": 3}
	result, err := CanonicalJSON(input)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":3,"zebra":1}`, string(result))
}

func TestCanonicalJSONNestedAndIntegerNormalization(t *testing.T) {
	input := map[string]interface{}{
		"outer": map[string]interface{}{"z": 1, "a": 2},
		"float": 3.14,
	}
	result, err := CanonicalJSON(input)
	require.NoError(t, err)
	assert.Contains(t, string(result), `"outer":{"a":2,"z":1}`)
	assert.Contains(t, string(result), `"float":3.14`)
}

func TestNormalizeResponseStringifiesUnknownShapes(t *testing.T) {
	type weird struct{ X int }
	out := NormalizeResponse(weird{X: 1})
	assert.Equal(t, "{1}", out)
}

func TestNormalizeResponsePassesThroughPlainShapes(t *testing.T) {
	in := map[string]interface{}{
		"results": []interface{}{"a", float64(2), true, nil},
	}
	out := NormalizeResponse(in)
	m, ok := out.(map[string]interface{})
	require.True(t, ok)
	arr, ok := m["results"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"a", float64(2), true, nil}, arr)
}
