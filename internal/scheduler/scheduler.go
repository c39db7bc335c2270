// Package scheduler implements the Worker Scheduler (C13): N cooperative
// worker units communicating with the main loop over message-tagged
// channels, plus crash-restart and graceful-drain shutdown. Grounded on the
// teacher's internal/defi/trading_bot.go (executionQueue channel, stopChan,
// mutex-guarded state, uuid-tagged records), generalized from one bot's
// order queue to a pool of N workers each owning its own scan/execute/report
// loop, per the cyclic Scheduler<->Worker message-passing edge the
// specification calls out.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/l2arb/engine/internal/opportunity"
	"github.com/l2arb/engine/pkg/logger"
)

// MessageKind tags what a Scheduler is asking a Worker to do.
type MessageKind string

const (
	MessageScan      MessageKind = "scan"
	MessageExecute   MessageKind = "execute"
	MessageReport    MessageKind = "report"
	MessageTerminate MessageKind = "terminate"
)

// ScanPayload is the request body for a Scan message.
type ScanPayload struct {
	Chains []int64
	Tokens []string
	Depth  int
}

// Message is one scheduler-to-worker instruction, uniquely tagged and
// timestamped at origin.
type Message struct {
	ID        string
	Kind      MessageKind
	Origin    time.Time
	Scan      ScanPayload
	Execute   opportunity.Opportunity
}

// ExecutionResult is a worker's report on one Execute message.
type ExecutionResult struct {
	OpportunityID string
	Success       bool
	Err           error
}

// Snapshot is a worker's performance report.
type Snapshot struct {
	WorkerID      string
	ScansRun      int
	TradesRun     int
	TradesSucceeded int
}

// Response wraps any worker reply with the fields every message kind
// carries: worker id, completion timestamp, and measured latency.
type Response struct {
	WorkerID   string
	MessageID  string
	Completed  time.Time
	LatencyMS  float64

	Opportunities []opportunity.Opportunity
	Execution     ExecutionResult
	Snapshot      Snapshot
}

// ScanFunc runs one scan for a worker and returns found opportunities.
type ScanFunc func(ctx context.Context, payload ScanPayload) ([]opportunity.Opportunity, error)

// ExecuteFunc executes one opportunity for a worker.
type ExecuteFunc func(ctx context.Context, o opportunity.Opportunity) ExecutionResult

// Worker is one cooperative task with its own inbox, executing scan/execute
// requests and reporting performance snapshots.
type Worker struct {
	id      string
	log     *logger.Logger
	scan    ScanFunc
	execute ExecuteFunc

	inbox  chan Message
	outbox chan<- Response
	cache  *opportunityCache

	mu        sync.Mutex
	scansRun  int
	tradesRun int
	tradesOK  int
}

func newWorker(id string, log *logger.Logger, scan ScanFunc, execute ExecuteFunc, outbox chan<- Response) *Worker {
	return &Worker{
		id: id, log: log, scan: scan, execute: execute,
		inbox: make(chan Message, 16), outbox: outbox,
		cache: newOpportunityCache(defaultScanInterval),
	}
}

// run is the worker's main loop; it exits when it receives Terminate or ctx
// is cancelled.
func (w *Worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-w.inbox:
			if !ok {
				return
			}
			if w.handle(ctx, msg) {
				return
			}
		}
	}
}

// handle processes one message and reports back, returning true if the
// worker should stop after this message.
func (w *Worker) handle(ctx context.Context, msg Message) bool {
	start := time.Now()
	switch msg.Kind {
	case MessageScan:
		opps, err := w.scan(ctx, msg.Scan)
		if err != nil {
			w.log.Warn("scan failed", zap.String("worker", w.id), zap.Error(err))
		}
		fresh := w.cache.filterFresh(opps)
		w.mu.Lock()
		w.scansRun++
		w.mu.Unlock()
		w.reply(msg, start, Response{Opportunities: fresh})
		return false

	case MessageExecute:
		result := w.execute(ctx, msg.Execute)
		w.mu.Lock()
		w.tradesRun++
		if result.Success {
			w.tradesOK++
		}
		w.mu.Unlock()
		w.reply(msg, start, Response{Execution: result})
		return false

	case MessageReport:
		w.mu.Lock()
		snap := Snapshot{WorkerID: w.id, ScansRun: w.scansRun, TradesRun: w.tradesRun, TradesSucceeded: w.tradesOK}
		w.mu.Unlock()
		w.reply(msg, start, Response{Snapshot: snap})
		return false

	case MessageTerminate:
		return true

	default:
		return false
	}
}

func (w *Worker) reply(msg Message, start time.Time, partial Response) {
	partial.WorkerID = w.id
	partial.MessageID = msg.ID
	partial.Completed = time.Now()
	partial.LatencyMS = float64(partial.Completed.Sub(start).Microseconds()) / 1000.0
	select {
	case w.outbox <- partial:
	default:
		w.log.Warn("dropping response, outbox full", zap.String("worker", w.id))
	}
}

const (
	defaultWorkers        = 4
	defaultScanInterval   = time.Second
	defaultReportInterval = 60 * time.Second
	crashRestartDelay     = time.Second
)

// Scheduler owns the worker pool and drives Scan broadcasts and periodic
// aggregated reporting.
type Scheduler struct {
	log            *logger.Logger
	scan           ScanFunc
	execute        ExecuteFunc
	scanInterval   time.Duration
	reportInterval time.Duration

	mu      sync.Mutex
	workers map[string]*Worker
	outbox  chan Response

	aggregated []Snapshot

	// runCtx is the context every worker goroutine actually watches. It is
	// derived from context.Background() at construction time so workers
	// spawned by New (before Run is ever called, as the unit tests do) are
	// runnable immediately; Run reparents its own cancellation onto runCancel
	// so every in-flight worker observes the real shutdown signal instead of
	// a context that never cancels. wg counts every live worker goroutine so
	// Run can block until they have actually exited before returning.
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New builds a Scheduler with n workers (defaulting to 4), each driven by
// scan and execute.
func New(log *logger.Logger, n int, scan ScanFunc, execute ExecuteFunc) *Scheduler {
	if n <= 0 {
		n = defaultWorkers
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	s := &Scheduler{
		log:            log,
		scan:           scan,
		execute:        execute,
		scanInterval:   defaultScanInterval,
		reportInterval: defaultReportInterval,
		workers:        make(map[string]*Worker),
		outbox:         make(chan Response, n*8),
		runCtx:         runCtx,
		runCancel:      runCancel,
	}
	for i := 0; i < n; i++ {
		s.spawnWorker(s.runCtx, fmt.Sprintf("worker-%d", i))
	}
	return s
}

// WithIntervals overrides the default scan/report cadence, retroactively
// resizing every already-spawned worker's opportunity cache TTL to match.
func (s *Scheduler) WithIntervals(scan, report time.Duration) *Scheduler {
	s.mu.Lock()
	s.scanInterval = scan
	s.reportInterval = report
	for _, w := range s.workers {
		w.cache = newOpportunityCache(scan)
	}
	s.mu.Unlock()
	return s
}

func (s *Scheduler) spawnWorker(ctx context.Context, id string) *Worker {
	s.mu.Lock()
	ttl := s.scanInterval
	s.mu.Unlock()

	w := newWorker(id, s.log, s.scan, s.execute, s.outbox)
	w.cache = newOpportunityCache(ttl)
	s.mu.Lock()
	s.workers[id] = w
	s.mu.Unlock()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		w.run(ctx)
	}()
	return w
}

// Supervise restarts a worker with the same id after crashRestartDelay if
// its run loop returns unexpectedly (msgs after Terminate are intentional
// and distinguished by the caller not calling Supervise after Terminate).
func (s *Scheduler) Supervise(ctx context.Context, id string) {
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(crashRestartDelay):
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("restarting worker", zap.String("worker", id))
			s.spawnWorker(ctx, id)
		}
	}()
}

// Broadcast sends a message of the given kind and payload to every worker's
// inbox, each tagged with a fresh id.
func (s *Scheduler) Broadcast(kind MessageKind, payload ScanPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.workers {
		msg := Message{ID: uuid.NewString(), Kind: kind, Origin: time.Now(), Scan: payload}
		select {
		case w.inbox <- msg:
		default:
			s.log.Warn("worker inbox full, dropping scan", zap.String("worker", w.id))
		}
	}
}

// Dispatch sends one Execute message to an arbitrary idle-looking worker
// (round-robin by map iteration, since Go's map order is unspecified but
// stable enough within a tick for even spread in practice).
func (s *Scheduler) Dispatch(o opportunity.Opportunity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.workers {
		msg := Message{ID: uuid.NewString(), Kind: MessageExecute, Origin: time.Now(), Execute: o}
		select {
		case w.inbox <- msg:
			return
		default:
			continue
		}
	}
}

// Responses returns the channel on which workers publish Scan/Execute/Report
// replies.
func (s *Scheduler) Responses() <-chan Response {
	return s.outbox
}

// Run drives the scan-broadcast and report-aggregation ticks until ctx is
// cancelled, then issues Terminate to every worker and drains.
func (s *Scheduler) Run(ctx context.Context, payload ScanPayload) {
	scanTicker := time.NewTicker(s.scanInterval)
	reportTicker := time.NewTicker(s.reportInterval)
	defer scanTicker.Stop()
	defer reportTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.terminateAll()
			return
		case <-scanTicker.C:
			s.Broadcast(MessageScan, payload)
		case <-reportTicker.C:
			s.requestReports()
		case resp := <-s.outbox:
			s.aggregate(resp)
		}
	}
}

func (s *Scheduler) requestReports() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.workers {
		msg := Message{ID: uuid.NewString(), Kind: MessageReport, Origin: time.Now()}
		select {
		case w.inbox <- msg:
		default:
		}
	}
}

func (s *Scheduler) aggregate(resp Response) {
	if resp.Snapshot.WorkerID != "" {
		s.mu.Lock()
		s.aggregated = append(s.aggregated, resp.Snapshot)
		s.mu.Unlock()
	}
}

// Aggregated returns every Snapshot collected so far.
func (s *Scheduler) Aggregated() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Snapshot(nil), s.aggregated...)
}

// terminateAll sends Terminate to every worker, then cancels runCtx so a
// worker whose inbox is full (and so never receives the Terminate message)
// still observes cancellation on its next select, and blocks until every
// spawned worker goroutine has actually returned before Run returns. This
// is what lets a caller rely on Run() having fully drained the pool instead
// of merely having asked it to.
func (s *Scheduler) terminateAll() {
	s.mu.Lock()
	workers := make([]*Worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	for _, w := range workers {
		select {
		case w.inbox <- Message{ID: uuid.NewString(), Kind: MessageTerminate, Origin: time.Now()}:
		default:
		}
	}

	s.runCancel()
	s.wg.Wait()
}
