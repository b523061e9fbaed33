// Package invoker implements the runtime tool invoker: the single
// dispatch path every sandboxed candidate call crosses on its way to a
// search/LLM provider (spec §4.9). It wires together session, semaphore,
// budget, tooling, toolprovider, and receipts into the nine-step pipeline
// spec §4.9 specifies: resolve tool, acquire the per-token concurrency
// slot, load the session, project cost, assert budget, delegate to the
// provider, normalize the response, commit actual cost, and record a
// receipt — releasing the concurrency slot on every exit path.
//
// Grounded on github.com/Mindburn-Labs/helm/core/pkg/runtime/toolwrap.go's
// ToolWrapper.Execute — run the tool, classify the error, wrap the
// outcome in a structured, hashed result — generalized from one wrapped
// function call into the full resolve/guard/delegate/record pipeline
// spec §4.9 requires; the guards themselves (semaphore, budget) are this
// validator's own replacements for the teacher's rate limiter and quota
// enforcer, built in pkg/semaphore and pkg/budget.
package invoker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caster-hub/validator-core/pkg/budget"
	"github.com/caster-hub/validator-core/pkg/crypto"
	"github.com/caster-hub/validator-core/pkg/observability"
	"github.com/caster-hub/validator-core/pkg/receipts"
	"github.com/caster-hub/validator-core/pkg/runtime"
	"github.com/caster-hub/validator-core/pkg/semaphore"
	"github.com/caster-hub/validator-core/pkg/session"
	"github.com/caster-hub/validator-core/pkg/tooling"
	"github.com/caster-hub/validator-core/pkg/toolprovider"
)

// fingerprintHasher canonicalizes each tool call's identifying fields
// before hashing, so the request_fingerprint (spec §3) is stable
// regardless of map key ordering in req.Extra.
var fingerprintHasher = crypto.NewCanonicalHasher()

// noteCapableTools is the SPEC_FULL supplement #3 set: only search_ai and
// search_x results ever carry a human-readable Note; every other
// search-family tool's results are citation-valid without one.
var noteCapableTools = map[string]bool{
	"search_ai": true,
	"search_x":  true,
}

// Request is the provider-agnostic shape of one sandboxed tool call.
type Request struct {
	SessionID       string
	Token           string
	ToolName        string
	Query           string
	Count           int
	Model           string
	Messages        []toolprovider.LLMMessage
	MaxOutputTokens int64
	Extra           map[string]interface{}
}

// Response is what the invoker hands back to the sandbox transport layer.
type Response struct {
	ReceiptID    string
	Result       interface{}
	Results      []receipts.ToolResult
	ResultPolicy receipts.ResultPolicy
	Usage        interface{}
	CostUSD      float64
	Budget       budget.Snapshot
}

// sessionBudget pairs a budget.Validator with the usage accumulator that
// shares its lifetime.
type sessionBudget struct {
	validator *budget.Validator
	usage     *budget.UsageAccumulator
}

// Invoker is the runtime tool invoker. One Invoker serves every session
// for the lifetime of the process; per-session state is keyed by
// session ID internally.
type Invoker struct {
	sessions *session.Registry
	tokens   *session.TokenRegistry
	sem      *semaphore.TokenSemaphore
	log      *receipts.Log
	search   toolprovider.SearchProvider
	llm      toolprovider.LLMProvider
	tariffs  map[string]budget.ModelTariff
	obs      *observability.Provider

	mu      sync.Mutex
	budgets map[string]*sessionBudget
}

// New builds an Invoker. search and llm may be nil if the deployment has
// not wired that capability; calls to tools of that kind then fail with
// ErrUnknownTool rather than panicking. obs may be nil, in which case
// Execute runs without tracing/metrics.
func New(
	sessions *session.Registry,
	tokens *session.TokenRegistry,
	sem *semaphore.TokenSemaphore,
	log *receipts.Log,
	search toolprovider.SearchProvider,
	llm toolprovider.LLMProvider,
	tariffs map[string]budget.ModelTariff,
	obs *observability.Provider,
) *Invoker {
	return &Invoker{
		sessions: sessions,
		tokens:   tokens,
		sem:      sem,
		log:      log,
		search:   search,
		llm:      llm,
		tariffs:  tariffs,
		obs:      obs,
		budgets:  make(map[string]*sessionBudget),
	}
}

// RegisterSession creates the budget/usage accounting for a freshly
// minted session. Called by the evaluation worker alongside
// session.Registry.Create.
func (inv *Invoker) RegisterSession(sessionID string, limitUSD float64) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.budgets[sessionID] = &sessionBudget{
		validator: budget.NewValidator(sessionID, limitUSD),
		usage:     budget.NewUsageAccumulator(),
	}
}

// ForgetSession drops a session's budget/usage accounting. Called once
// the session reaches a terminal state.
func (inv *Invoker) ForgetSession(sessionID string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	delete(inv.budgets, sessionID)
}

func (inv *Invoker) sessionBudgetOf(sessionID string) (*sessionBudget, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	sb, ok := inv.budgets[sessionID]
	if !ok {
		return nil, runtime.New(runtime.ErrSessionInvalid, "no budget registered for session %s", sessionID)
	}
	return sb, nil
}

// Execute runs the full nine-step pipeline for one tool call.
func (inv *Invoker) Execute(ctx context.Context, req Request) (resp *Response, err error) {
	if inv.obs != nil {
		var finish func(error)
		ctx, finish = inv.obs.TrackOperation(ctx, "invoker.execute", observability.ToolInvocationAttrs(req.SessionID, req.ToolName, string(toolKindOrEmpty(req.ToolName)))...)
		defer func() { finish(err) }()
	}

	// Step 1: resolve tool by name.
	desc, ok := tooling.Lookup(req.ToolName)
	if !ok {
		return nil, runtime.New(runtime.ErrUnknownTool, "unknown tool %q", req.ToolName)
	}

	// Step 2: acquire the per-token concurrency slot.
	if err := inv.sem.Acquire(req.Token); err != nil {
		return nil, err
	}
	released := false
	release := func() {
		if !released {
			inv.sem.Release(req.Token)
			released = true
		}
	}
	defer release()

	// Step 3: load the session and verify the bearer token presented
	// matches the one registered for it.
	sess, err := inv.sessions.Get(req.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, runtime.New(runtime.ErrSessionInvalid, "session %s is already terminal", req.SessionID)
	}
	if !inv.tokens.Verify(req.SessionID, req.Token) {
		return nil, runtime.New(runtime.ErrSessionInvalid, "token does not match session %s", req.SessionID)
	}
	sb, err := inv.sessionBudgetOf(req.SessionID)
	if err != nil {
		return nil, err
	}

	tariff := inv.tariffs[req.Model]

	// Step 4: project cost, pessimistically, before dispatch.
	estimatedInputTokens := estimateInputTokens(req.Messages)
	projected, err := tooling.ProjectedCost(req.ToolName, req.Count, req.MaxOutputTokens, estimatedInputTokens, toolingTariff(tariff))
	if err != nil {
		return nil, runtime.Wrap(runtime.ErrUnknownTool, err, "projecting cost for %s", req.ToolName)
	}

	// Step 5: assert the projection stays within the session's cap.
	used := sb.validator.Snapshot().SessionUsedBudgetUSD
	if err := sb.validator.AssertWithinLimit(used + projected); err != nil {
		return nil, err
	}

	// Step 6: delegate to the provider.
	normalized, resultCount, inputTokens, outputTokens, receiptResults, err := inv.dispatch(ctx, desc, req)
	success := err == nil
	var actualCost float64
	if success {
		actualCost, err = tooling.ActualCost(req.ToolName, resultCount, inputTokens, outputTokens, toolingTariff(tariff))
		if err != nil {
			success = false
		}
	}

	// Step 8: commit actual cost (clamp-and-fail on overshoot, spec §4.9
	// step 7); this runs even on a provider failure so a partially
	// billed call (e.g. a search that returned results before an
	// error) is still charged for what it used. A fully failed call
	// before any usage carries an actualCost of 0 and commits cleanly.
	commitErr := sb.validator.Commit(actualCost)
	if commitErr != nil {
		success = false
		if err == nil {
			err = commitErr
		}
	}

	sb.usage.RecordProviderCall(req.ToolName)
	if desc.Kind == tooling.KindLLM {
		sb.usage.RecordLLM(req.Model, inputTokens, outputTokens)
	}

	// Step 9: mint and record the receipt, win or lose.
	receiptID := uuid.NewString()
	costPtr := &actualCost
	resultPolicy := receipts.ResultOpaque
	if success && desc.Cited {
		resultPolicy = receipts.ResultReferenceable
	}
	usage := usageSummary(inputTokens, outputTokens)
	rec := &receipts.Receipt{
		ReceiptID:          receiptID,
		SessionID:          req.SessionID,
		ToolName:           req.ToolName,
		RequestFingerprint: fingerprint(req),
		CostUSD:            costPtr,
		Usage:              usage,
		Results:            receiptResults,
		ResultPolicy:       resultPolicy,
		Success:            success,
		CreatedAt:          time.Now(),
	}
	if recErr := inv.log.Record(rec); recErr != nil && err == nil {
		err = recErr
	}

	if err != nil {
		return nil, err
	}

	return &Response{
		ReceiptID:    receiptID,
		Result:       normalized,
		Results:      receiptResults,
		ResultPolicy: resultPolicy,
		Usage:        usage,
		CostUSD:      actualCost,
		Budget:       sb.validator.Snapshot(),
	}, nil
}

// dispatch delegates to the search or LLM provider and normalizes the
// response (spec §4.9 steps 6-7). It returns the count of results (for
// per-result pricing) and token counts (for token-tariff pricing) so the
// caller can compute actual cost uniformly.
func (inv *Invoker) dispatch(ctx context.Context, desc tooling.Descriptor, req Request) (normalized interface{}, resultCount int, inputTokens, outputTokens int64, receiptResults []receipts.ToolResult, err error) {
	switch desc.Kind {
	case tooling.KindSearch:
		if inv.search == nil {
			return nil, 0, 0, 0, nil, runtime.New(runtime.ErrUnknownTool, "no search provider wired for %s", req.ToolName)
		}
		resp, serr := inv.search.Search(ctx, toolprovider.SearchRequest{
			Tool:  req.ToolName,
			Query: req.Query,
			Count: req.Count,
			Extra: req.Extra,
		})
		if serr != nil {
			return nil, 0, 0, 0, nil, serr
		}
		receiptResults = make([]receipts.ToolResult, 0, len(resp.Items))
		rawItems := make([]interface{}, 0, len(resp.Items))
		for i, item := range resp.Items {
			note := ""
			if noteCapableTools[req.ToolName] {
				note = item.Note
			}
			receiptResults = append(receiptResults, receipts.ToolResult{Search: &receipts.SearchToolResult{
				Index:    i,
				ResultID: item.ResultID,
				URL:      item.URL,
				Title:    item.Title,
				Note:     note,
			}})
			rawItems = append(rawItems, map[string]interface{}{
				"index": i, "result_id": item.ResultID, "url": item.URL, "title": item.Title, "note": note,
			})
		}
		normalized = tooling.NormalizeResponse(map[string]interface{}{"items": rawItems})
		return normalized, len(resp.Items), 0, 0, receiptResults, nil

	case tooling.KindLLM:
		if inv.llm == nil {
			return nil, 0, 0, 0, nil, runtime.New(runtime.ErrUnknownTool, "no llm provider wired for %s", req.ToolName)
		}
		resp, lerr := inv.llm.Chat(ctx, toolprovider.LLMRequest{
			Model:           req.Model,
			Messages:        req.Messages,
			MaxOutputTokens: req.MaxOutputTokens,
		})
		if lerr != nil {
			return nil, 0, 0, 0, nil, lerr
		}
		normalized = tooling.NormalizeResponse(map[string]interface{}{"content": resp.Content})
		receiptResults = []receipts.ToolResult{{Raw: resp.Content}}
		return normalized, 1, resp.InputTokens, resp.OutputTokens, receiptResults, nil

	case tooling.KindDiagnostic, tooling.KindIntrospection:
		var payload interface{}
		if desc.Name == "tooling_info" {
			// Round-trip through JSON so NormalizeResponse sees plain
			// maps and slices rather than []tooling.PricingEntry.
			raw, merr := json.Marshal(tooling.PricingTable())
			if merr == nil {
				merr = json.Unmarshal(raw, &payload)
			}
			if merr != nil {
				return nil, 0, 0, 0, nil, runtime.Wrap(runtime.ErrFatalInvariant, merr, "encoding pricing table")
			}
		} else {
			payload = map[string]interface{}{"ok": true}
		}
		normalized = tooling.NormalizeResponse(payload)
		receiptResults = []receipts.ToolResult{{Raw: payload}}
		return normalized, 0, 0, 0, receiptResults, nil

	default:
		return nil, 0, 0, 0, nil, runtime.New(runtime.ErrUnknownTool, "tool %s has no dispatch kind", req.ToolName)
	}
}

func estimateInputTokens(messages []toolprovider.LLMMessage) int64 {
	var total int64
	for _, m := range messages {
		// A rough 4-bytes-per-token heuristic, used only for the
		// pessimistic pre-dispatch projection; the committed cost
		// always uses the provider's reported token counts.
		total += int64(len(m.Content))/4 + 1
	}
	return total
}

func toolingTariff(t budget.ModelTariff) tooling.ModelTariff {
	return tooling.ModelTariff{Model: t.Model, InputUSDPerToken: t.InputUSDPerToken, OutputUSDPerToken: t.OutputUSDPerToken}
}

func usageSummary(inputTokens, outputTokens int64) interface{} {
	if inputTokens == 0 && outputTokens == 0 {
		return nil
	}
	return map[string]int64{"input_tokens": inputTokens, "output_tokens": outputTokens}
}

// fingerprint canonicalizes and hashes the fields that identify a
// request's shape (tool, session, query, count, model) via pkg/crypto's
// CanonicalHasher, rather than concatenating them directly, so the
// fingerprint is order-independent and fixed-width regardless of how
// many Extra args a future tool adds.
func fingerprint(req Request) string {
	sum, err := fingerprintHasher.Hash(map[string]interface{}{
		"tool":       req.ToolName,
		"session_id": req.SessionID,
		"query":      req.Query,
		"count":      req.Count,
		"model":      req.Model,
	})
	if err != nil {
		// CanonicalMarshal only fails on unmarshalable values, which the
		// map above never contains; fall back to a degraded but still
		// deterministic fingerprint rather than panicking mid-pipeline.
		return req.ToolName + ":" + req.SessionID
	}
	return sum
}

// toolKindOrEmpty resolves a tool's Kind for span/metric labeling without
// failing the call if the name doesn't resolve; Execute's own step 1
// still produces the real ErrUnknownTool.
func toolKindOrEmpty(toolName string) tooling.Kind {
	if desc, ok := tooling.Lookup(toolName); ok {
		return desc.Kind
	}
	return ""
}
