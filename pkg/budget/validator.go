package budget

import (
	"log"
	"sync"

	"github.com/caster-hub/validator-core/pkg/runtime"
)

// Validator enforces a fixed per-session USD cap (spec §4.3). A Validator
// instance belongs to exactly one session; the runtime tool invoker creates
// one when it mints a session.
type Validator struct {
	mu          sync.Mutex
	limitUSD    float64
	usedUSD     float64
	sessionID   string
}

// NewValidator constructs a Validator with the given fixed cap. A
// non-positive limit falls back to DefaultSessionBudgetUSD.
func NewValidator(sessionID string, limitUSD float64) *Validator {
	if limitUSD <= 0 {
		limitUSD = DefaultSessionBudgetUSD
	}
	return &Validator{sessionID: sessionID, limitUSD: limitUSD}
}

// AssertWithinLimit fails with ErrBudgetExceeded when projectedTotalUSD
// (already-used + a pessimistic upper bound for the pending call) exceeds
// the fixed limit. Comparison is strict '>' per spec §4.3.
func (v *Validator) AssertWithinLimit(projectedTotalUSD float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if projectedTotalUSD > v.limitUSD {
		log.Printf("budget: session %s would exceed cap: projected=%.6f limit=%.6f", v.sessionID, projectedTotalUSD, v.limitUSD)
		return runtime.New(runtime.ErrBudgetExceeded, "projected cost %.6f exceeds session limit %.6f", projectedTotalUSD, v.limitUSD)
	}
	return nil
}

// Commit records actual_cost as spent. Callers must have already called
// AssertWithinLimit with a projection covering actual_cost; Commit itself
// re-validates so a provider overshoot is caught and clamped (spec §4.9
// step 7): the session's used budget is clamped at the cap and
// ErrBudgetExceeded is returned so the caller can terminate the session.
func (v *Validator) Commit(actualCostUSD float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	next := v.usedUSD + actualCostUSD
	if next > v.limitUSD {
		v.usedUSD = v.limitUSD
		return runtime.New(runtime.ErrBudgetExceeded, "actual cost %.6f overshot session limit %.6f", next, v.limitUSD)
	}
	v.usedUSD = next
	return nil
}

// Snapshot returns the current budget accounting triple.
func (v *Validator) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	remaining := v.limitUSD - v.usedUSD
	if remaining < 0 {
		remaining = 0
	}
	return Snapshot{
		SessionBudgetUSD:          v.limitUSD,
		SessionUsedBudgetUSD:      v.usedUSD,
		SessionRemainingBudgetUSD: remaining,
	}
}
