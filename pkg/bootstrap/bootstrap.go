// Package bootstrap builds the validator-core dependency graph and
// coordinates its start/stop lifecycle (spec §2 system overview,
// "Wiring / bootstrap"; spec §5 "Cancellation").
//
// Grounded on github.com/Mindburn-Labs/helm/core/cmd/helm's runServer
// (main.go): the same "construct every leaf dependency, wire it into
// the next layer up, start the long-lived loops, wait for a shutdown
// signal, stop everything in reverse order" shape, generalized from the
// teacher's single HTTP kernel to this validator's four coupled loops
// (HTTP control plane, evaluation worker's inbox dispatch, weight
// worker, heartbeat monitor).
package bootstrap

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caster-hub/validator-core/pkg/batch"
	"github.com/caster-hub/validator-core/pkg/budget"
	"github.com/caster-hub/validator-core/pkg/chain"
	"github.com/caster-hub/validator-core/pkg/config"
	"github.com/caster-hub/validator-core/pkg/evalworker"
	"github.com/caster-hub/validator-core/pkg/httpapi"
	"github.com/caster-hub/validator-core/pkg/inbox"
	"github.com/caster-hub/validator-core/pkg/invoker"
	"github.com/caster-hub/validator-core/pkg/observability"
	"github.com/caster-hub/validator-core/pkg/progress"
	"github.com/caster-hub/validator-core/pkg/receipts"
	"github.com/caster-hub/validator-core/pkg/runtime/sandbox"
	"github.com/caster-hub/validator-core/pkg/semaphore"
	"github.com/caster-hub/validator-core/pkg/session"
	"github.com/caster-hub/validator-core/pkg/signing"
	"github.com/caster-hub/validator-core/pkg/statusapi"
	"github.com/caster-hub/validator-core/pkg/toolprovider"
	"github.com/caster-hub/validator-core/pkg/weights"
)

// aclCacheTTL and aclCacheCapacity are the spec §4.7 defaults ("TTL cache
// (default 300s, capacity 1024)").
const (
	aclCacheTTL      = 300 * time.Second
	aclCacheCapacity = 1024
)

// runRegistry tracks the single active run id the weight worker polls
// (spec §4.11 inputs: "scored evaluations accumulated since last
// submission"). The evaluation worker dispatch loop is the sole writer.
type runRegistry struct {
	mu  sync.RWMutex
	cur string
}

func (r *runRegistry) set(runID string) {
	r.mu.Lock()
	r.cur = runID
	r.mu.Unlock()
}

func (r *runRegistry) get() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cur
}

// batchEnqueuer wraps the batch inbox with a run-id generator, so it
// satisfies httpapi.BatchEnqueuer without the HTTP layer ever touching
// inbox internals directly (spec §4.5, §6 POST /batch).
type batchEnqueuer struct {
	inbox *inbox.Inbox[runnableBatch]
	mu    sync.Mutex
	seq   int64
	depth atomic.Int64
}

type runnableBatch struct {
	runID string
	spec  *batch.BatchSpec
}

func (e *batchEnqueuer) Enqueue(spec *batch.BatchSpec) (string, error) {
	e.mu.Lock()
	e.seq++
	runID := fmt.Sprintf("%s-run-%d", spec.BatchID, e.seq)
	e.mu.Unlock()
	e.depth.Add(1)
	e.inbox.Put(runnableBatch{runID: runID, spec: spec})
	return runID, nil
}

func (e *batchEnqueuer) QueueDepth() int {
	return int(e.depth.Load())
}

// dequeued is called by the dispatch loop once an item leaves the inbox,
// keeping QueueDepth's best-effort count in sync (spec §6 GET /status
// "queued_batches").
func (e *batchEnqueuer) dequeued() {
	e.depth.Add(-1)
}

// Graph holds every wired dependency and the handles needed to start and
// stop the four long-lived loops (HTTP control plane, evaluation worker's
// inbox dispatch, weight worker, heartbeat watchdog).
type Graph struct {
	cfg *config.Config

	obs    *observability.Provider
	status *statusapi.Provider

	chainClient chain.Client
	acl         *signing.ACL

	sessions *session.Registry
	tokens   *session.TokenRegistry
	minter   *session.Minter
	sem      *semaphore.TokenSemaphore
	semStore *semaphore.RedisStore // non-nil only in distributed mode
	receiptLog *receipts.Log
	tracker  *progress.Tracker

	invoker *invoker.Invoker
	sandboxMgr *sandbox.Manager
	worker  *evalworker.Worker
	runs    *runRegistry

	weightService *weights.Service
	weightWorker  *weights.Worker
	backoff       *weights.BackoffStore

	enqueuer *batchEnqueuer
	batchInbox *inbox.Inbox[runnableBatch]
	server   *httpapi.Server
	httpSrv  *http.Server

	runCancelMu sync.Mutex
	runCancel   context.CancelFunc

	stop chan struct{}
}

// heartbeatTimeout and heartbeatPollInterval govern the evaluation
// worker watchdog (spec §4.10: "an external monitor restarts it if the
// heartbeat is stale"; supplemented feature 4, application/monitor_heartbeat.py).
const (
	heartbeatTimeout      = 5 * time.Minute
	heartbeatPollInterval = 10 * time.Second
)

// Build constructs the full dependency graph from cfg. search and llm may
// be nil (the deployment has not wired that opaque provider port yet);
// dispatchEntrypoint, when non-nil, lets this process also answer its own
// POST /entry/{entrypoint_name} for local testing (spec §6).
func Build(
	ctx context.Context,
	cfg *config.Config,
	chainClient chain.Client,
	searchProvider toolprovider.SearchProvider,
	llmProvider toolprovider.LLMProvider,
	tariffs map[string]budget.ModelTariff,
	dispatchEntrypoint httpapi.EntrypointDispatcher,
) (*Graph, error) {
	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.Observability.TracingEnabled || cfg.Observability.MetricsEnabled
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: observability: %w", err)
	}

	status := statusapi.NewProvider()

	if chainClient == nil {
		chainClient = chain.NewFake()
	}
	if err := chainClient.Connect(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap: chain connect: %w", err)
	}

	acl := signing.NewACL(chainClient, cfg.Platform.OwnerColdkeySS58, aclCacheTTL, aclCacheCapacity)

	sessions := session.NewRegistry()
	tokens := session.NewTokenRegistry()
	signingKey := make([]byte, 32)
	if _, err := rand.Read(signingKey); err != nil {
		return nil, fmt.Errorf("bootstrap: generating session signing key: %w", err)
	}
	minter := session.NewMinter(signingKey)

	sem := semaphore.New(1) // spec §4.2 default max_parallel_calls
	var semStore *semaphore.RedisStore
	if cfg.Semaphore.RedisAddr != "" {
		semStore = semaphore.NewRedisStore(cfg.Semaphore.RedisAddr, cfg.Semaphore.RedisPassword, cfg.Semaphore.RedisDB)
		sem = semaphore.NewDistributed(1, semStore)
		log.Printf("bootstrap: token semaphore backed by redis at %s", cfg.Semaphore.RedisAddr)
	}
	receiptLog := receipts.NewLog()
	tracker := progress.NewTracker()

	inv := invoker.New(sessions, tokens, sem, receiptLog, searchProvider, llmProvider, tariffs, obs)

	if cfg.Sandbox.Image == "" {
		log.Println("bootstrap: CASTER_SANDBOX_IMAGE is empty; sandbox.Manager will fail Start() until configured")
	}
	sandboxMgr, err := sandbox.NewManager(fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: sandbox manager: %w", err)
	}

	deployer := &evalworker.ManagerDeployer{
		Manager: sandboxMgr,
		Options: sandbox.Options{
			Image:      cfg.Sandbox.Image,
			Network:    cfg.Sandbox.Network,
			PullPolicy: sandbox.PullPolicy(cfg.Sandbox.PullPolicy),
			StopTimeoutSeconds: cfg.Sandbox.StopTimeout,
			WaitForHealthz:     true,
		},
	}

	worker := evalworker.New(deployer, sessions, tokens, receiptLog, tracker, inv, evalworker.DefaultCandidateParallelism, obs, minter)

	backoff := weights.NewBackoffStore(cfg.Subtensor.BackoffFilePath)
	weightService := weights.NewService(chainClient, backoff, cfg.Subtensor.NetUID, 0)
	runs := &runRegistry{}
	weightWorker := weights.NewWorker(weightService, tracker, status, map[string]float64{}, weights.DefaultInterval, runs.get)

	batchInbox := inbox.New[runnableBatch]()
	enqueuer := &batchEnqueuer{inbox: batchInbox}

	server := httpapi.NewServer(acl, tokens, enqueuer, tracker, status, inv, dispatchEntrypoint)

	mux := http.NewServeMux()
	mux.Handle("/", server.Routes())
	var handler http.Handler = httpapi.RequestIDMiddleware(httpapi.RequestLogger(mux))

	return &Graph{
		cfg:           cfg,
		obs:           obs,
		status:        status,
		chainClient:   chainClient,
		acl:           acl,
		sessions:      sessions,
		tokens:        tokens,
		minter:        minter,
		sem:           sem,
		semStore:      semStore,
		receiptLog:    receiptLog,
		tracker:       tracker,
		invoker:       inv,
		sandboxMgr:    sandboxMgr,
		worker:        worker,
		runs:          runs,
		weightService: weightService,
		weightWorker:  weightWorker,
		backoff:       backoff,
		enqueuer:      enqueuer,
		batchInbox:    batchInbox,
		server:        server,
		httpSrv:       &http.Server{Addr: cfg.Host + ":" + cfg.Port, Handler: handler},
		stop:          make(chan struct{}),
	}, nil
}

// Run starts every long-lived loop: the inbox dispatch loop, the weight
// worker, the heartbeat watchdog, and the HTTP control plane. It blocks
// until ctx is cancelled or the HTTP server fails.
func (g *Graph) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		g.dispatchLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		g.weightWorker.Run(ctx, g.stop)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		g.heartbeatWatchdog(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("bootstrap: http control plane listening on %s", g.httpSrv.Addr)
		if err := g.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		log.Printf("bootstrap: http server error: %v", err)
	}

	g.shutdown(&wg)
	return nil
}

// dispatchLoop is the evaluation worker's long-lived inbox consumer (spec
// §4.10 "Scheduling model: one long-lived worker consumes the inbox").
func (g *Graph) dispatchLoop(ctx context.Context) {
	for {
		item, ok := g.batchInbox.Get(5*time.Second, g.stop)
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-g.stop:
				return
			default:
				continue // timed out with nothing queued; poll again
			}
		}

		g.enqueuer.dequeued()
		g.status.SetQueuedBatches(g.enqueuer.QueueDepth())
		g.runs.set(item.runID)
		g.status.BatchStarted(item.runID)
		claims := batch.NewInlineClaimProvider(item.spec)

		runCtx, cancel := context.WithCancel(ctx)
		g.runCancelMu.Lock()
		g.runCancel = cancel
		g.runCancelMu.Unlock()

		err := g.worker.RunBatch(runCtx, item.runID, item.spec, claims)

		g.runCancelMu.Lock()
		g.runCancel = nil
		g.runCancelMu.Unlock()
		cancel()

		if err != nil {
			log.Printf("bootstrap: batch %s failed catastrophically: %v", item.runID, err)
			g.status.BatchFailed(err.Error())
			continue
		}
		g.status.BatchCompleted()
	}
}

// heartbeatWatchdog polls the evaluation worker's HeartbeatMonitor and
// cancels the in-flight batch if it goes stale, letting dispatchLoop
// record it as failed and move on to the next queued batch rather than
// wedging the process forever (spec §4.10 supplemented feature 4,
// grounded on application/monitor_heartbeat.py).
func (g *Graph) heartbeatWatchdog(ctx context.Context) {
	ticker := time.NewTicker(heartbeatPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stop:
			return
		case <-ticker.C:
			if !g.worker.Heartbeat().Stale(heartbeatTimeout) {
				continue
			}
			g.runCancelMu.Lock()
			cancel := g.runCancel
			g.runCancelMu.Unlock()
			if cancel == nil {
				continue
			}
			log.Printf("bootstrap: evaluation worker heartbeat stale (>%s); cancelling current batch", heartbeatTimeout)
			cancel()
		}
	}
}

// shutdown stops the graph in order: it closes the stop signal and the
// batch inbox, shuts the HTTP server down, waits for the dispatch loop,
// weight worker and watchdog goroutines in wg (a running batch's
// sandboxes are stopped as that batch unwinds), and only then closes the
// chain client, the semaphore store and observability. WORKER_STOP_TIMEOUT
// bounds the HTTP shutdown and the wait together. The in-flight batch
// runs under Run's ctx, so on a signal it is cancelled rather than
// drained.
func (g *Graph) shutdown(wg *sync.WaitGroup) {
	const workerStopTimeout = 30 * time.Minute

	close(g.stop)
	g.batchInbox.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), workerStopTimeout)
	defer cancel()
	if err := g.httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("bootstrap: http server shutdown: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Printf("bootstrap: workers did not stop within %s", workerStopTimeout)
	}

	if err := g.chainClient.Close(context.Background()); err != nil {
		log.Printf("bootstrap: chain client close: %v", err)
	}
	if g.semStore != nil {
		if err := g.semStore.Close(); err != nil {
			log.Printf("bootstrap: semaphore redis store close: %v", err)
		}
	}
	if err := g.obs.Shutdown(context.Background()); err != nil {
		log.Printf("bootstrap: observability shutdown: %v", err)
	}
}

// Status exposes the status provider for callers that want to surface it
// outside the HTTP control plane (e.g. a CLI health command).
func (g *Graph) Status() *statusapi.Provider { return g.status }
