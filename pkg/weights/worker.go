// Weight worker: polls the submission service at a fixed interval
// (spec §4.11, system overview table: "Weight worker ... Polls
// submission service at fixed interval").
//
// Grounded on the evaluation worker's HeartbeatMonitor pattern
// (pkg/evalworker) for the "long-lived ticking loop, cancellable
// through a shared stop signal" shape spec §5 requires of every
// suspension point; the tick itself just calls Service.Submit.
package weights

import (
	"context"
	"log"
	"time"

	"github.com/caster-hub/validator-core/pkg/progress"
)

// ScoredEvaluationSource supplies the closeouts accumulated since the
// last submission tick. The evaluation worker's progress.Tracker
// satisfies this by returning every closeout recorded for the given run.
type ScoredEvaluationSource interface {
	Closeouts(runID string) []progress.Closeout
}

// StatusSink is the slice of statusapi.Provider the weight worker needs.
type StatusSink interface {
	WeightSubmitted()
	WeightFailed(msg string)
}

// Worker ticks Service.Submit at a fixed interval, sourcing weights from
// the closeouts recorded so far for the run currentRunID returns; in
// pkg/bootstrap that is the run most recently taken from the inbox, which
// may still be in progress (spec §4.11 inputs: "scored evaluations
// accumulated since last submission").
type Worker struct {
	service      *Service
	source       ScoredEvaluationSource
	status       StatusSink
	claimWeights map[string]float64
	interval     time.Duration
	currentRunID func() string
}

// DefaultInterval is used when no override is configured; the tempo-aware
// backoff inside Service.Submit is what actually governs submission
// cadence, so this is deliberately finer-grained than a typical tempo.
const DefaultInterval = 60 * time.Second

func NewWorker(service *Service, source ScoredEvaluationSource, status StatusSink, claimWeights map[string]float64, interval time.Duration, currentRunID func() string) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Worker{
		service:      service,
		source:       source,
		status:       status,
		claimWeights: claimWeights,
		interval:     interval,
		currentRunID: currentRunID,
	}
}

// Run ticks until ctx is cancelled or stop is closed, whichever comes
// first (spec §5: "all cancellable through a shared stop signal
// propagated from the process shutdown path"). Callers run this in its
// own goroutine; Run blocks until shutdown.
func (w *Worker) Run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	runID := w.currentRunID()
	if runID == "" {
		return
	}
	closeouts := w.source.Closeouts(runID)
	if len(closeouts) == 0 {
		return
	}

	scores := ComputeScores(closeouts, w.claimWeights)
	normalized := Normalize(scores)
	if len(normalized) == 0 {
		return
	}

	sub, err := w.service.Submit(ctx, runID, normalized)
	if err != nil {
		log.Printf("weights: submission tick failed for run %s: %v", runID, err)
		w.status.WeightFailed(err.Error())
		return
	}
	if sub == nil {
		return // backoff window still closed, spec §4.11 step 3
	}
	log.Printf("weights: submitted run %s, tx=%s, receipt=%s, top=%v", runID, sub.TxHash, sub.ReceiptHash, TopN(normalized, 3))
	w.status.WeightSubmitted()
}
