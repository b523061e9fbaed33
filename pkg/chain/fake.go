package chain

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Client used by the core's own test suites and by
// cmd/validator in local-development mode. It is not a mock framework
// double; it implements real (if trivial) chain semantics so tests can
// exercise backoff/tempo logic without a live node.
type Fake struct {
	mu sync.Mutex

	block        int64
	tempoBlocks  int64
	lastUpdate   map[int]int64
	weights      map[int]float64
	commitments  map[int]*CommitmentRecord
	coldkeyOwner map[string]string // hotkey ss58 -> coldkey ss58
	validator    ValidatorNodeInfo
	uids         []int
	hotkeys      map[int]string
	coldkeys     map[int]string

	submitCount int
}

func NewFake() *Fake {
	return &Fake{
		tempoBlocks:  50,
		lastUpdate:   make(map[int]int64),
		weights:      make(map[int]float64),
		commitments:  make(map[int]*CommitmentRecord),
		coldkeyOwner: make(map[string]string),
		hotkeys:      make(map[int]string),
		coldkeys:     make(map[int]string),
	}
}

func (f *Fake) SetBlock(b int64)        { f.mu.Lock(); f.block = b; f.mu.Unlock() }
func (f *Fake) SetTempo(b int64)        { f.mu.Lock(); f.tempoBlocks = b; f.mu.Unlock() }
func (f *Fake) SetLastUpdate(uid int, b int64) {
	f.mu.Lock()
	f.lastUpdate[uid] = b
	f.mu.Unlock()
}
func (f *Fake) SetOwner(hotkeySS58, coldkeySS58 string) {
	f.mu.Lock()
	f.coldkeyOwner[hotkeySS58] = coldkeySS58
	f.mu.Unlock()
}
func (f *Fake) SubmitCount() int { f.mu.Lock(); defer f.mu.Unlock(); return f.submitCount }

func (f *Fake) SetValidatorInfo(v ValidatorNodeInfo) {
	f.mu.Lock()
	f.validator = v
	f.mu.Unlock()
}

func (f *Fake) SubmittedWeights() map[int]float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int]float64, len(f.weights))
	for k, v := range f.weights {
		out[k] = v
	}
	return out
}

func (f *Fake) Connect(ctx context.Context) error { return nil }
func (f *Fake) Close(ctx context.Context) error   { return nil }

func (f *Fake) FetchMetagraph(ctx context.Context, netUID int) (*MetagraphSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &MetagraphSnapshot{Block: f.block, UIDs: append([]int{}, f.uids...), Hotkeys: f.hotkeys, Coldkeys: f.coldkeys}, nil
}

func (f *Fake) FetchCommitment(ctx context.Context, uid int) (*CommitmentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.commitments[uid]
	if !ok {
		return nil, fmt.Errorf("no commitment for uid %d", uid)
	}
	return c, nil
}

func (f *Fake) PublishCommitment(ctx context.Context, data []byte, blocksUntilReveal int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitments[f.validator.UID] = &CommitmentRecord{
		UID: f.validator.UID, Data: data, Block: f.block, RevealAt: f.block + blocksUntilReveal,
	}
	return nil
}

func (f *Fake) CurrentBlock(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.block, nil
}

func (f *Fake) LastUpdateBlock(ctx context.Context, uid int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastUpdate[uid], nil
}

func (f *Fake) ValidatorInfo(ctx context.Context) (*ValidatorNodeInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.validator
	return &v, nil
}

func (f *Fake) SubmitWeights(ctx context.Context, weights map[int]float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCount++
	for k, v := range weights {
		f.weights[k] = v
	}
	return fmt.Sprintf("0xfake%d", f.submitCount), nil
}

func (f *Fake) FetchWeight(ctx context.Context, uid int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.weights[uid], nil
}

func (f *Fake) Tempo(ctx context.Context, netUID int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tempoBlocks, nil
}

func (f *Fake) GetNextEpochStartBlock(ctx context.Context, netUID int, referenceBlock *int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := f.block
	if referenceBlock != nil {
		ref = *referenceBlock
	}
	return ref - (ref % f.tempoBlocks) + f.tempoBlocks, nil
}

func (f *Fake) ColdkeyOf(ctx context.Context, hotkeySS58 string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	coldkey, ok := f.coldkeyOwner[hotkeySS58]
	return coldkey, ok, nil
}
