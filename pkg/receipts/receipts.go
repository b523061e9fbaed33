// Package receipts is the append-only log of tool calls a session makes,
// and the citation-validity check the evaluation worker runs against it
// (spec §3, §4.1, §8).
//
// Grounded on _examples/original_source's
// validator/src/caster_validator/domain/services/receipt_registry.py for
// the Record/Lookup/ForSession/ClearSession shape and the citation
// validity rule; the in-memory map-of-slices storage mirrors
// github.com/Mindburn-Labs/helm/core/pkg/budget's in-memory ledger
// pattern (teacher's memory_store.go), since the spec explicitly keeps
// the receipt store in-memory only (§9).
package receipts

import (
	"sync"
	"time"

	"github.com/caster-hub/validator-core/pkg/runtime"
)

// ResultPolicy governs whether a receipt's results may be cited.
type ResultPolicy string

const (
	ResultReferenceable ResultPolicy = "REFERENCEABLE"
	ResultOpaque        ResultPolicy = "OPAQUE"
)

// SearchToolResult is one result entry from a citation-source tool.
type SearchToolResult struct {
	Index    int    `json:"index"`
	ResultID string `json:"result_id"`
	URL      string `json:"url,omitempty"`
	Title    string `json:"title,omitempty"`
	Note     string `json:"note,omitempty"`
}

// ToolResult is one entry in a receipt's Results slice. Search-family
// tools populate Search; everything else carries an opaque Raw payload.
type ToolResult struct {
	Search *SearchToolResult
	Raw    interface{}
}

// Receipt is an immutable record of one completed tool call (spec §3).
type Receipt struct {
	ReceiptID          string       `json:"receipt_id"`
	SessionID          string       `json:"session_id"`
	ToolName           string       `json:"tool_name"`
	RequestFingerprint string       `json:"request_fingerprint"`
	CostUSD            *float64     `json:"cost_usd,omitempty"`
	Usage              interface{}  `json:"usage,omitempty"`
	Results            []ToolResult `json:"results"`
	ResultPolicy       ResultPolicy `json:"result_policy"`
	Success            bool         `json:"success"`
	CreatedAt          time.Time    `json:"created_at"`
}

// citationSourceTools is the set of tools whose receipts may be cited
// (the "search family" per spec §3's MinerCitation invariant).
var citationSourceTools = map[string]bool{
	"search_web":    true,
	"search_x":      true,
	"search_ai":     true,
	"search_repo":   true,
	"get_repo_file": true,
	"search_items":  true,
}

// IsCitationSource reports whether toolName's receipts may be cited.
func IsCitationSource(toolName string) bool {
	return citationSourceTools[toolName]
}

// Log is the thread-safe, append-only receipt store (spec §4.1).
type Log struct {
	mu        sync.RWMutex
	byID      map[string]*Receipt
	bySession map[string][]string // session_id -> ordered receipt_ids
}

func NewLog() *Log {
	return &Log{
		byID:      make(map[string]*Receipt),
		bySession: make(map[string][]string),
	}
}

// Record appends receipt to the log. A duplicate receipt_id is an
// undefined input (spec §4.1); the implementation treats it as a fatal
// invariant violation rather than silently overwriting.
func (l *Log) Record(r *Receipt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.byID[r.ReceiptID]; exists {
		return runtime.New(runtime.ErrFatalInvariant, "receipt id collision: %s", r.ReceiptID)
	}
	l.byID[r.ReceiptID] = r
	l.bySession[r.SessionID] = append(l.bySession[r.SessionID], r.ReceiptID)
	return nil
}

// Lookup returns the receipt for id, if any.
func (l *Log) Lookup(id string) (*Receipt, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.byID[id]
	return r, ok
}

// ForSession returns all receipts recorded for sessionID, in record order.
func (l *Log) ForSession(sessionID string) []*Receipt {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := l.bySession[sessionID]
	out := make([]*Receipt, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.byID[id])
	}
	return out
}

// ClearSession drops all receipts recorded for sessionID. Called only
// after the session reaches a terminal state (spec §4.1).
func (l *Log) ClearSession(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range l.bySession[sessionID] {
		delete(l.byID, id)
	}
	delete(l.bySession, sessionID)
}

// Citation is a candidate-supplied reference to a prior receipt (spec §3).
type Citation struct {
	ReceiptID string `json:"receipt_id"`
	ResultID  string `json:"result_id"`
	URL       string `json:"url,omitempty"`
	Note      string `json:"note,omitempty"`
}

// ValidateCitation checks the five conditions spec §8 names: the
// receipt (i) exists, (ii) is successful, (iii) is a citation-source
// tool, (iv) has REFERENCEABLE policy, (v) lists the cited result_id.
func (l *Log) ValidateCitation(c Citation) bool {
	r, ok := l.Lookup(c.ReceiptID)
	if !ok {
		return false
	}
	if !r.Success {
		return false
	}
	if !IsCitationSource(r.ToolName) {
		return false
	}
	if r.ResultPolicy != ResultReferenceable {
		return false
	}
	for _, res := range r.Results {
		if res.Search != nil && res.Search.ResultID == c.ResultID {
			return true
		}
	}
	return false
}
