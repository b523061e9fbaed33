package weights_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caster-hub/validator-core/pkg/chain"
	"github.com/caster-hub/validator-core/pkg/progress"
	"github.com/caster-hub/validator-core/pkg/weights"
)

type fakeSource struct {
	byRun map[string][]progress.Closeout
}

func (f *fakeSource) Closeouts(runID string) []progress.Closeout { return f.byRun[runID] }

type fakeStatus struct {
	submitted, failed int
	lastFailure       string
}

func (f *fakeStatus) WeightSubmitted()        { f.submitted++ }
func (f *fakeStatus) WeightFailed(msg string) { f.failed++; f.lastFailure = msg }

func newOpenWindowService(t *testing.T) *weights.Service {
	t.Helper()
	fake := chain.NewFake()
	fake.SetBlock(1000)
	fake.SetTempo(50)
	fake.SetLastUpdate(1, 900)
	fake.SetValidatorInfo(chain.ValidatorNodeInfo{UID: 1})
	store := weights.NewBackoffStore(filepath.Join(t.TempDir(), "backoff"))
	return weights.NewService(fake, store, 1, 0)
}

func TestWorkerTickSkipsWhenNoCurrentRun(t *testing.T) {
	svc := newOpenWindowService(t)
	source := &fakeSource{byRun: map[string][]progress.Closeout{}}
	status := &fakeStatus{}
	w := weights.NewWorker(svc, source, status, nil, time.Millisecond, func() string { return "" })

	stop := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	w.Run(ctx, stop)

	assert.Equal(t, 0, status.submitted)
	assert.Equal(t, 0, status.failed)
}

func TestWorkerTickSkipsWhenNoCloseoutsAccumulated(t *testing.T) {
	svc := newOpenWindowService(t)
	source := &fakeSource{byRun: map[string][]progress.Closeout{}}
	status := &fakeStatus{}
	w := weights.NewWorker(svc, source, status, nil, time.Millisecond, func() string { return "run-1" })

	stop := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	w.Run(ctx, stop)

	assert.Equal(t, 0, status.submitted)
	assert.Equal(t, 0, status.failed)
}

func TestWorkerTickSubmitsAndUpdatesStatusOnSuccess(t *testing.T) {
	svc := newOpenWindowService(t)
	source := &fakeSource{byRun: map[string][]progress.Closeout{
		"run-1": {
			{UID: 2, ClaimID: "c1", Score: 1.0},
			{UID: 3, ClaimID: "c1", Score: 0.5},
		},
	}}
	status := &fakeStatus{}
	w := weights.NewWorker(svc, source, status, nil, 5*time.Millisecond, func() string { return "run-1" })

	stop := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	w.Run(ctx, stop)

	require.GreaterOrEqual(t, status.submitted, 1)
	assert.Equal(t, 0, status.failed)
}

// currentBlockFailingClient wraps chain.Fake and fails CurrentBlock, so
// Service.Submit returns an error the worker tick must report via status.
type currentBlockFailingClient struct{ *chain.Fake }

func (currentBlockFailingClient) CurrentBlock(ctx context.Context) (int64, error) {
	return 0, assertWeightsErr{}
}

type assertWeightsErr struct{}

func (assertWeightsErr) Error() string { return "chain unavailable" }

func TestWorkerTickReportsFailureWhenSubmitErrors(t *testing.T) {
	fake := currentBlockFailingClient{chain.NewFake()}
	store := weights.NewBackoffStore(filepath.Join(t.TempDir(), "backoff"))
	svc := weights.NewService(fake, store, 1, 0)

	source := &fakeSource{byRun: map[string][]progress.Closeout{
		"run-1": {{UID: 2, ClaimID: "c1", Score: 1.0}},
	}}
	status := &fakeStatus{}
	w := weights.NewWorker(svc, source, status, nil, 5*time.Millisecond, func() string { return "run-1" })

	stop := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	w.Run(ctx, stop)

	assert.Equal(t, 0, status.submitted)
	assert.GreaterOrEqual(t, status.failed, 1)
}

func TestWorkerStopsOnStopChannel(t *testing.T) {
	svc := newOpenWindowService(t)
	source := &fakeSource{byRun: map[string][]progress.Closeout{}}
	status := &fakeStatus{}
	w := weights.NewWorker(svc, source, status, nil, time.Millisecond, func() string { return "" })

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		w.Run(context.Background(), stop)
		close(done)
	}()
	close(stop)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop when stop channel closed")
	}
}
