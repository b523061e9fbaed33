// Package weights implements the weight submission service: turning
// accumulated closeouts into a normalized per-uid weight vector, gating
// submission on the chain's own backoff window, and persisting the last
// submission block atomically (spec §4.11).
//
// Grounded on _examples/original_source's
// application/services/weight_submission_service.py for the five-step
// algorithm and the descending-weight/ascending-uid tie-break; the chain
// calls themselves go through pkg/chain.Client, the same port
// pkg/signing's ACL uses; the submission receipt hash goes through
// pkg/crypto.JCSHasher for the same reason pkg/signing hashes request
// bodies through that package.
package weights

import (
	"context"
	"sort"

	"github.com/caster-hub/validator-core/pkg/chain"
	"github.com/caster-hub/validator-core/pkg/crypto"
	"github.com/caster-hub/validator-core/pkg/progress"
	"github.com/caster-hub/validator-core/pkg/runtime"
)

// receiptHasher computes the JCS content hash recorded on every
// Submission, so an operator or auditor can independently re-derive the
// same hash from the Submission's JSON encoding (Go field names RunID,
// SubmittedAt, Weights, TxHash, with ReceiptHash still empty).
var receiptHasher = crypto.NewJCSHasher()

// normalizationTolerance is the spec §4.11 "sum to 1.0 ± 0.01" slack.
const normalizationTolerance = 0.01

// ComputeScores sums per-uid closeout scores, each weighted by its
// claim's configured weight (default 1.0 when absent from claimWeights).
// Each closeout.Score is already rubric-normalized to [0,1] by the
// evaluation worker (spec §4.10), so this step only aggregates across
// claims — it does not re-derive the (value-min)/(max-min) scaling.
func ComputeScores(closeouts []progress.Closeout, claimWeights map[string]float64) map[int]float64 {
	totals := make(map[int]float64)
	for _, c := range closeouts {
		weight := 1.0
		if w, ok := claimWeights[c.ClaimID]; ok {
			weight = w
		}
		totals[c.UID] += c.Score * weight
	}
	return totals
}

// Normalize keeps positive scores only and rescales them to sum to
// 1.0 within tolerance (spec §4.11 step 2). A score set with no positive
// entries returns an empty map, not an error: it is a legitimate
// "nobody scored" outcome the caller treats as "skip this tick".
func Normalize(scores map[int]float64) map[int]float64 {
	positives := make(map[int]float64)
	var sum float64
	for uid, s := range scores {
		if s > 0 {
			positives[uid] = s
			sum += s
		}
	}
	if sum == 0 {
		return map[int]float64{}
	}
	out := make(map[int]float64, len(positives))
	for uid, s := range positives {
		out[uid] = s / sum
	}
	return out
}

// TieBreak orders uids by descending weight, then ascending uid for
// stability (spec §4.11).
func TieBreak(weights map[int]float64) []int {
	uids := make([]int, 0, len(weights))
	for uid := range weights {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool {
		wi, wj := weights[uids[i]], weights[uids[j]]
		if wi != wj {
			return wi > wj
		}
		return uids[i] < uids[j]
	})
	return uids
}

// TopN returns the first n uids of TieBreak's ordering, for operator
// observability (spec §4.11: "the top-3 are exposed").
func TopN(weights map[int]float64, n int) []int {
	ordered := TieBreak(weights)
	if len(ordered) > n {
		ordered = ordered[:n]
	}
	return ordered
}

// Submission is the result of a successful weight submission tick
// (spec §4.11 step 5).
type Submission struct {
	RunID       string
	SubmittedAt int64 // block at submission time
	Weights     map[int]float64
	TxHash      string
	// ReceiptHash is the SHA-256 hash of this submission's RFC 8785
	// canonical JSON encoding (pkg/crypto.JCSHasher), letting an operator
	// verify a logged submission against the chain's tx independently of
	// this process's in-memory state.
	ReceiptHash string
}

// Service runs the weight submission algorithm against a chain.Client.
type Service struct {
	client            chain.Client
	backoff           *BackoffStore
	netUID            int
	minBlocksOverride int64
}

func NewService(client chain.Client, backoff *BackoffStore, netUID int, minBlocksOverride int64) *Service {
	return &Service{client: client, backoff: backoff, netUID: netUID, minBlocksOverride: minBlocksOverride}
}

// Submit runs spec §4.11 steps 3-5: check the backoff window, submit if
// open, persist the new backoff block. It returns (nil, nil) when the
// window is closed (spec: "skip this tick").
func (s *Service) Submit(ctx context.Context, runID string, weights map[int]float64) (*Submission, error) {
	if len(weights) == 0 {
		return nil, nil
	}

	current, err := s.client.CurrentBlock(ctx)
	if err != nil {
		return nil, runtime.Wrap(runtime.ErrChainSubmitFailed, err, "fetching current block")
	}

	info, err := s.client.ValidatorInfo(ctx)
	if err != nil {
		return nil, runtime.Wrap(runtime.ErrChainSubmitFailed, err, "fetching validator info")
	}

	lastUpdate, err := s.client.LastUpdateBlock(ctx, info.UID)
	if err != nil {
		return nil, runtime.Wrap(runtime.ErrChainSubmitFailed, err, "fetching last update block")
	}

	backoffLast, err := s.backoff.Read()
	if err != nil {
		return nil, err
	}

	minBlocks := s.minBlocksOverride
	if minBlocks <= 0 {
		minBlocks, err = s.client.Tempo(ctx, s.netUID)
		if err != nil {
			return nil, runtime.Wrap(runtime.ErrChainSubmitFailed, err, "fetching tempo")
		}
	}

	baseline := lastUpdate
	if backoffLast > baseline {
		baseline = backoffLast
	}
	if current-baseline < minBlocks {
		return nil, nil
	}

	txHash, err := s.client.SubmitWeights(ctx, weights)
	if err != nil {
		return nil, runtime.Wrap(runtime.ErrChainSubmitFailed, err, "submitting weights")
	}

	if err := s.backoff.Write(current); err != nil {
		return nil, err
	}

	sub := &Submission{RunID: runID, SubmittedAt: current, Weights: weights, TxHash: txHash}
	if hash, hashErr := receiptHasher.Hash(sub); hashErr == nil {
		sub.ReceiptHash = hash
	}
	return sub, nil
}
