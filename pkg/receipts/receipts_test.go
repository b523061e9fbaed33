package receipts_test

import (
	"testing"
	"time"

	"github.com/caster-hub/validator-core/pkg/receipts"
	"github.com/caster-hub/validator-core/pkg/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cost(v float64) *float64 { return &v }

func TestRecordAndLookup(t *testing.T) {
	l := receipts.NewLog()
	r := &receipts.Receipt{
		ReceiptID: "r1", SessionID: "s1", ToolName: "search_web",
		ResultPolicy: receipts.ResultReferenceable, Success: true, CreatedAt: time.Now(),
		Results: []receipts.ToolResult{{Search: &receipts.SearchToolResult{Index: 0, ResultID: "res-1", URL: "http://x"}}},
		CostUSD: cost(0.001),
	}
	require.NoError(t, l.Record(r))

	got, ok := l.Lookup("r1")
	require.True(t, ok)
	assert.Equal(t, "search_web", got.ToolName)
}

func TestRecordDuplicateIDFails(t *testing.T) {
	l := receipts.NewLog()
	r := &receipts.Receipt{ReceiptID: "dup", SessionID: "s1", ToolName: "test_tool"}
	require.NoError(t, l.Record(r))
	err := l.Record(r)
	require.Error(t, err)
	assert.Equal(t, runtime.ErrFatalInvariant, runtime.KindOf(err))
}

func TestForSessionPreservesOrder(t *testing.T) {
	l := receipts.NewLog()
	require.NoError(t, l.Record(&receipts.Receipt{ReceiptID: "a", SessionID: "s1"}))
	require.NoError(t, l.Record(&receipts.Receipt{ReceiptID: "b", SessionID: "s1"}))
	require.NoError(t, l.Record(&receipts.Receipt{ReceiptID: "c", SessionID: "s2"}))

	forS1 := l.ForSession("s1")
	require.Len(t, forS1, 2)
	assert.Equal(t, "a", forS1[0].ReceiptID)
	assert.Equal(t, "b", forS1[1].ReceiptID)
}

func TestClearSessionRemovesAllItsReceipts(t *testing.T) {
	l := receipts.NewLog()
	require.NoError(t, l.Record(&receipts.Receipt{ReceiptID: "a", SessionID: "s1"}))
	l.ClearSession("s1")
	assert.Empty(t, l.ForSession("s1"))
	_, ok := l.Lookup("a")
	assert.False(t, ok)
}

func TestValidateCitationAllFiveConditions(t *testing.T) {
	l := receipts.NewLog()
	base := receipts.Receipt{
		ReceiptID: "good", SessionID: "s1", ToolName: "search_web",
		Success: true, ResultPolicy: receipts.ResultReferenceable,
		Results: []receipts.ToolResult{{Search: &receipts.SearchToolResult{ResultID: "res-1"}}},
	}
	require.NoError(t, l.Record(&base))
	assert.True(t, l.ValidateCitation(receipts.Citation{ReceiptID: "good", ResultID: "res-1"}))

	assert.False(t, l.ValidateCitation(receipts.Citation{ReceiptID: "missing", ResultID: "res-1"}), "unknown receipt")

	failed := base
	failed.ReceiptID = "failed-receipt"
	failed.Success = false
	require.NoError(t, l.Record(&failed))
	assert.False(t, l.ValidateCitation(receipts.Citation{ReceiptID: "failed-receipt", ResultID: "res-1"}), "unsuccessful receipt")

	notCited := base
	notCited.ReceiptID = "llm-receipt"
	notCited.ToolName = "llm_chat"
	require.NoError(t, l.Record(&notCited))
	assert.False(t, l.ValidateCitation(receipts.Citation{ReceiptID: "llm-receipt", ResultID: "res-1"}), "not a citation-source tool")

	opaque := base
	opaque.ReceiptID = "opaque-receipt"
	opaque.ResultPolicy = receipts.ResultOpaque
	require.NoError(t, l.Record(&opaque))
	assert.False(t, l.ValidateCitation(receipts.Citation{ReceiptID: "opaque-receipt", ResultID: "res-1"}), "not REFERENCEABLE")

	assert.False(t, l.ValidateCitation(receipts.Citation{ReceiptID: "good", ResultID: "no-such-result"}), "result_id not listed")
}

func TestIsCitationSource(t *testing.T) {
	assert.True(t, receipts.IsCitationSource("search_ai"))
	assert.False(t, receipts.IsCitationSource("llm_chat"))
	assert.False(t, receipts.IsCitationSource("test_tool"))
}
