// Package chain declares the port the validator core uses to talk to a
// Subtensor node: metagraph reads, commitment publish/fetch, weight
// submission, and tempo/epoch queries (spec §6).
//
// The core never talks to substrate directly; it only ever calls this
// interface, so tests substitute an in-memory fake. Grounded on
// _examples/original_source's application/ports/subtensor.py, which
// defines the same operation set against the same underlying chain.
package chain

import "context"

// CommitmentRecord is a value a validator or miner published on-chain
// via publish_commitment (SPEC_FULL supplement #6).
type CommitmentRecord struct {
	UID       int
	Data      []byte
	Block     int64
	RevealAt  int64
}

// ValidatorNodeInfo describes this validator's own chain-registered identity.
type ValidatorNodeInfo struct {
	Hotkey     string
	Coldkey    string
	UID        int
	Stake      float64
}

// MetagraphSnapshot is a point-in-time view of the subnet's registered neurons.
type MetagraphSnapshot struct {
	Block int64
	UIDs  []int
	Hotkeys map[int]string
	Coldkeys map[int]string
}

// Client is the chain port the validator core depends on (spec §6).
type Client interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	FetchMetagraph(ctx context.Context, netUID int) (*MetagraphSnapshot, error)
	FetchCommitment(ctx context.Context, uid int) (*CommitmentRecord, error)
	PublishCommitment(ctx context.Context, data []byte, blocksUntilReveal int64) error

	CurrentBlock(ctx context.Context) (int64, error)
	LastUpdateBlock(ctx context.Context, uid int) (int64, error)
	ValidatorInfo(ctx context.Context) (*ValidatorNodeInfo, error)

	SubmitWeights(ctx context.Context, weights map[int]float64) (txHash string, err error)
	FetchWeight(ctx context.Context, uid int) (float64, error)

	Tempo(ctx context.Context, netUID int) (int64, error)
	GetNextEpochStartBlock(ctx context.Context, netUID int, referenceBlock *int64) (int64, error)

	// ColdkeyOf resolves the coldkey that owns hotkey ss58, for the
	// signed-request verifier's owner-hotkey ACL (spec §4.7).
	ColdkeyOf(ctx context.Context, hotkeySS58 string) (coldkeySS58 string, ok bool, err error)
}
