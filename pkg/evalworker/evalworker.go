// Package evalworker implements the evaluation worker: the long-lived
// loop that drains the batch inbox, runs each candidate's sandbox
// through every claim in the batch, scores the answers, and records
// closeouts (spec §4.10).
//
// Grounded on github.com/Mindburn-Labs/helm/core/pkg/compliance/regwatch
// (swarm.go)'s pollAll/pollAgent pair — a buffered-channel semaphore plus
// sync.WaitGroup fanning out one goroutine per independent unit, each run
// to completion with no cross-unit ordering — for the "bounded
// concurrency across independent units of work, sequential within a
// unit" shape; golang.org/x/sync/errgroup replaces that hand-rolled
// channel+WaitGroup pair since it is already part of the example pack's
// dependency surface (github.com/ethereum/go-ethereum uses it
// extensively) and gives cancellation-propagation for free.
package evalworker

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/caster-hub/validator-core/pkg/batch"
	"github.com/caster-hub/validator-core/pkg/observability"
	"github.com/caster-hub/validator-core/pkg/progress"
	"github.com/caster-hub/validator-core/pkg/receipts"
	"github.com/caster-hub/validator-core/pkg/runtime"
	"github.com/caster-hub/validator-core/pkg/runtime/sandbox"
	"github.com/caster-hub/validator-core/pkg/session"
)

// DefaultCandidateParallelism bounds concurrent sandboxes per batch when
// no override is configured.
const DefaultCandidateParallelism = 4

// MinerAnswer is what a candidate's entrypoint returns for one claim
// (spec §4.10 step 2).
type MinerAnswer struct {
	Verdict       int
	Justification string
	Citations     []receipts.Citation
}

// ScoredClaim pairs a claim with the answer and score the worker
// computed for it.
type ScoredClaim struct {
	ClaimID string
	Answer  MinerAnswer
	Score   float64
}

// HeartbeatMonitor lets an external supervisor detect a wedged worker
// (spec §4.10: "an external monitor restarts it if the heartbeat is
// older than a configured timeout"). Grounded on
// _examples/original_source/caster-hub's
// application/monitor_heartbeat.py.
type HeartbeatMonitor struct {
	mu   sync.Mutex
	last time.Time
}

func NewHeartbeatMonitor() *HeartbeatMonitor {
	return &HeartbeatMonitor{last: time.Now()}
}

func (h *HeartbeatMonitor) Touch() {
	h.mu.Lock()
	h.last = time.Now()
	h.mu.Unlock()
}

func (h *HeartbeatMonitor) Stale(timeout time.Duration) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return time.Since(h.last) > timeout
}

// ArtifactDeployer starts and stops the sandbox for one candidate
// artifact. It exists as a seam so tests can substitute a fake sandbox
// without a Docker daemon.
type ArtifactDeployer interface {
	Start(ctx context.Context, artifact batch.ArtifactSpec) (*sandbox.Deployment, error)
	Stop(ctx context.Context, dep *sandbox.Deployment) error
}

// SessionBudgetRegistrar is the slice of *invoker.Invoker the worker
// needs: registering and forgetting a session's per-claim budget.
type SessionBudgetRegistrar interface {
	RegisterSession(sessionID string, limitUSD float64)
	ForgetSession(sessionID string)
}

// Worker is the long-lived evaluation loop.
type Worker struct {
	deployer      ArtifactDeployer
	sessions      *session.Registry
	tokens        *session.TokenRegistry
	receipts      *receipts.Log
	progress      *progress.Tracker
	budgets       SessionBudgetRegistrar
	parallelism   int
	sessionTTL    time.Duration
	heartbeat     *HeartbeatMonitor
	obs           *observability.Provider
	minter        *session.Minter
}

// New builds a Worker. obs may be nil, in which case claim evaluations
// run without tracing/metrics. minter may be nil, in which case the
// bearer token handed to the sandbox is derived from the session id
// directly rather than a signed JWT.
func New(
	deployer ArtifactDeployer,
	sessions *session.Registry,
	tokens *session.TokenRegistry,
	receiptLog *receipts.Log,
	tracker *progress.Tracker,
	budgets SessionBudgetRegistrar,
	parallelism int,
	obs *observability.Provider,
	minter *session.Minter,
) *Worker {
	if parallelism <= 0 {
		parallelism = DefaultCandidateParallelism
	}
	return &Worker{
		deployer:    deployer,
		sessions:    sessions,
		tokens:      tokens,
		receipts:    receiptLog,
		progress:    tracker,
		budgets:     budgets,
		parallelism: parallelism,
		sessionTTL:  30 * time.Minute,
		heartbeat:   NewHeartbeatMonitor(),
		obs:         obs,
		minter:      minter,
	}
}

func (w *Worker) Heartbeat() *HeartbeatMonitor { return w.heartbeat }

// mintToken issues the bearer token the sandbox presents on every tool
// call for sess. When a Minter is wired, the token is a signed JWT
// (spec §4.4 "bearer token" treated as opaque by the registry, which only
// ever hashes it); otherwise it falls back to the BLAKE2b hex of the
// session id and the current time, so tests and deployments without a
// signing key still work.
func (w *Worker) mintToken(sess *session.Session) (string, error) {
	if w.minter == nil {
		return session.HashHex(sess.SessionID + ":" + time.Now().String()), nil
	}
	return w.minter.Mint(sess.SessionID, sess.UID, sess.ExpiresAt)
}

// RunBatch evaluates every candidate against every claim in spec,
// bounded concurrency across candidates, sequential claims per
// candidate (spec §4.10). A catastrophic per-candidate error is
// contained: the worker records FAILED closeouts for that candidate and
// continues with the rest of the batch (spec §4.10 failure modes).
func (w *Worker) RunBatch(ctx context.Context, runID string, spec *batch.BatchSpec, claims batch.ClaimProvider) error {
	uids := make([]int, 0, len(spec.Candidates))
	for _, c := range spec.Candidates {
		uids = append(uids, c.UID)
	}
	w.progress.Register(runID, uids, len(spec.Claims))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.parallelism)

	for _, candidate := range spec.Candidates {
		candidate := candidate
		g.Go(func() error {
			w.heartbeat.Touch()
			w.runCandidate(gctx, runID, candidate, spec.Claims, claims)
			return nil
		})
	}
	return g.Wait()
}

// runCandidate starts the candidate's sandbox, runs every claim
// sequentially against it, then stops the sandbox. Errors are contained
// per spec §4.10 failure modes: they produce FAILED closeouts rather
// than aborting the batch.
func (w *Worker) runCandidate(ctx context.Context, runID string, candidate batch.ArtifactSpec, claimRefs []batch.Claim, claims batch.ClaimProvider) {
	dep, err := w.deployer.Start(ctx, candidate)
	if err != nil {
		log.Printf("evalworker: sandbox start failed for uid %d: %v", candidate.UID, err)
		for _, ref := range claimRefs {
			w.progress.Record(runID, progress.Closeout{
				UID: candidate.UID, ClaimID: ref.ClaimID, Verdict: nil,
				Justification: "sandbox start failed", Score: 0,
			})
		}
		return
	}
	defer func() {
		if stopErr := w.deployer.Stop(context.Background(), dep); stopErr != nil {
			log.Printf("evalworker: sandbox stop failed for uid %d: %v", candidate.UID, stopErr)
		}
	}()

	for _, ref := range claimRefs {
		w.heartbeat.Touch()
		closeout := w.runClaim(ctx, runID, candidate, dep, ref, claims)
		w.progress.Record(runID, closeout)
	}
}

// runClaim drives one claim against one already-started sandbox: mint
// session+token, invoke the entrypoint, score the answer, clear the
// session's receipts and budget accounting (spec §4.10 step 2-3).
func (w *Worker) runClaim(ctx context.Context, runID string, candidate batch.ArtifactSpec, dep *sandbox.Deployment, ref batch.Claim, claims batch.ClaimProvider) (closeout progress.Closeout) {
	if w.obs != nil {
		var finish func(error)
		ctx, finish = w.obs.TrackOperation(ctx, "evalworker.claim", observability.ClaimEvaluationAttrs(runID, candidate.UID, ref.ClaimID)...)
		defer func() {
			if closeout.Verdict == nil {
				finish(runtime.New(runtime.ErrFatalInvariant, "%s", closeout.Justification))
			} else {
				finish(nil)
			}
		}()
	}

	claim, err := claims.Resolve(ctx, ref.ClaimID)
	if err != nil {
		return progress.Closeout{UID: candidate.UID, ClaimID: ref.ClaimID, Justification: "claim resolution failed", Score: 0}
	}

	sess := w.sessions.Create(candidate.UID, claim.ClaimID, w.sessionTTL)
	token, mintErr := w.mintToken(sess)
	if mintErr != nil {
		w.sessions.Revoke(sess.SessionID)
		return progress.Closeout{UID: candidate.UID, ClaimID: claim.ClaimID, Justification: "token mint failed: " + mintErr.Error(), Score: 0}
	}
	w.tokens.Register(sess.SessionID, token)
	budgetUSD := claim.BudgetUSD
	w.budgets.RegisterSession(sess.SessionID, budgetUSD)

	defer func() {
		w.tokens.Revoke(sess.SessionID)
		w.budgets.ForgetSession(sess.SessionID)
		w.receipts.ClearSession(sess.SessionID)
		w.sessions.Revoke(sess.SessionID)
	}()

	_ = w.sessions.Transition(sess.SessionID, session.StatusRunning)

	payload := claimPayload(claim)
	raw, invokeErr := dep.Invoke(ctx, "claim", payload, sess.SessionID, token)
	if invokeErr != nil {
		_ = w.sessions.Transition(sess.SessionID, session.StatusFailed)
		return progress.Closeout{UID: candidate.UID, ClaimID: claim.ClaimID, Justification: "invoke failed: " + invokeErr.Error(), Score: 0}
	}

	answer, parseErr := parseMinerAnswer(raw)
	if parseErr != nil {
		_ = w.sessions.Transition(sess.SessionID, session.StatusFailed)
		return progress.Closeout{UID: candidate.UID, ClaimID: claim.ClaimID, Justification: "malformed answer", Score: 0}
	}

	score := w.score(*claim, answer)
	_ = w.sessions.Transition(sess.SessionID, session.StatusCompleted)

	citationsOut := make([]interface{}, 0, len(answer.Citations))
	for _, c := range answer.Citations {
		citationsOut = append(citationsOut, c)
	}

	return progress.Closeout{
		UID:           candidate.UID,
		ClaimID:       claim.ClaimID,
		Verdict:       answer.Verdict,
		Justification: answer.Justification,
		Citations:     citationsOut,
		Score:         score,
		Session:       sess.SessionID,
	}
}

// score implements spec §4.10's "verdict alignment + support via cited
// receipts": alignment rewards matching the reference verdict,
// support rewards citations that validate against the session's
// receipt log. The 0.7/0.3 split is this validator's own resolution of
// an open question the distilled spec leaves unweighted.
func (w *Worker) score(claim batch.Claim, answer MinerAnswer) float64 {
	alignment := 0.0
	if ref, ok := claim.ReferenceAnswer.(float64); ok {
		if int(ref) == answer.Verdict {
			alignment = 1.0
		}
	} else if refInt, ok := claim.ReferenceAnswer.(int); ok {
		if refInt == answer.Verdict {
			alignment = 1.0
		}
	}

	support := 0.0
	if len(answer.Citations) > 0 {
		valid := 0
		for _, c := range answer.Citations {
			if w.receipts.ValidateCitation(c) {
				valid++
			}
		}
		support = float64(valid) / float64(len(answer.Citations))
	}

	score := 0.7*alignment + 0.3*support
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// ManagerDeployer adapts a *sandbox.Manager plus the static config
// every candidate reuses into the ArtifactDeployer seam.
type ManagerDeployer struct {
	Manager *sandbox.Manager
	Options sandbox.Options
}

func (d *ManagerDeployer) Start(ctx context.Context, artifact batch.ArtifactSpec) (*sandbox.Deployment, error) {
	opts := d.Options
	if opts.Env == nil {
		opts.Env = map[string]string{}
	} else {
		env := make(map[string]string, len(opts.Env)+2)
		for k, v := range opts.Env {
			env[k] = v
		}
		opts.Env = env
	}
	opts.Env["CASTER_ARTIFACT_ID"] = artifact.ArtifactID
	opts.Env["CASTER_CONTENT_HASH"] = artifact.ContentHash
	opts.ContainerName = "caster-cand-" + artifact.ArtifactID
	return d.Manager.Start(ctx, opts)
}

func (d *ManagerDeployer) Stop(ctx context.Context, dep *sandbox.Deployment) error {
	return d.Manager.Stop(ctx, dep)
}
