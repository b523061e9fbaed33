// Package budget enforces the per-session USD spend cap a sandboxed agent
// may run up while evaluating a single claim. It is fail-closed: any call
// that would cross the cap is rejected before it reaches a provider.
//
// Grounded on github.com/Mindburn-Labs/helm/core/pkg/budget (enforcer.go,
// types.go), collapsed from a per-tenant daily/monthly ledger to the
// single flat per-session USD cap spec §4.3 describes.
package budget

import "fmt"

// DefaultSessionBudgetUSD is the cap applied when a session is created
// without an explicit override (spec §4.3).
const DefaultSessionBudgetUSD = 0.05

// snapshotTolerance bounds the floating point drift allowed between
// used+remaining and budget (spec §3, §8).
const snapshotTolerance = 1e-9

// Snapshot is the per-session budget accounting triple. Invariant:
// Used+Remaining == Budget within snapshotTolerance, and 0 <= Used <= Budget.
type Snapshot struct {
	SessionBudgetUSD          float64 `json:"session_budget_usd"`
	SessionUsedBudgetUSD      float64 `json:"session_used_budget_usd"`
	SessionRemainingBudgetUSD float64 `json:"session_remaining_budget_usd"`
}

// Valid reports whether the snapshot satisfies the budget identity.
func (s Snapshot) Valid() bool {
	if s.SessionUsedBudgetUSD < 0 || s.SessionUsedBudgetUSD > s.SessionBudgetUSD+snapshotTolerance {
		return false
	}
	sum := s.SessionUsedBudgetUSD + s.SessionRemainingBudgetUSD
	diff := sum - s.SessionBudgetUSD
	if diff < 0 {
		diff = -diff
	}
	return diff <= snapshotTolerance
}

// ModelTariff prices a unit of LLM usage for a single model.
type ModelTariff struct {
	Model             string  `json:"model"`
	InputUSDPerToken  float64 `json:"input_usd_per_token"`
	OutputUSDPerToken float64 `json:"output_usd_per_token"`
}

// ProjectedCost reports how a call's cost was estimated before it was
// sent, kept alongside the eventual receipt for audit.
type ProjectedCost struct {
	ToolName  string  `json:"tool_name"`
	AmountUSD float64 `json:"amount_usd"`
}

func (p ProjectedCost) String() string {
	return fmt.Sprintf("%s=$%.6f", p.ToolName, p.AmountUSD)
}
