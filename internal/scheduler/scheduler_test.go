package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l2arb/engine/internal/opportunity"
	"github.com/l2arb/engine/pkg/logger"
)

func noopExecute(ctx context.Context, o opportunity.Opportunity) ExecutionResult {
	return ExecutionResult{OpportunityID: o.ID, Success: true}
}

func TestScheduler_BroadcastDispatchesScanToEveryWorker(t *testing.T) {
	var scanCalls int32
	scan := func(ctx context.Context, p ScanPayload) ([]opportunity.Opportunity, error) {
		scanCalls++
		return nil, nil
	}

	s := New(logger.New("test"), 3, scan, noopExecute)
	s.Broadcast(MessageScan, ScanPayload{Chains: []int64{42161}})

	seen := map[string]bool{}
	deadline := time.After(time.Second)
	for len(seen) < 3 {
		select {
		case resp := <-s.Responses():
			seen[resp.WorkerID] = true
		case <-deadline:
			t.Fatal("timed out waiting for worker responses")
		}
	}
	assert.Len(t, seen, 3)
}

func TestScheduler_ReportAggregatesPerformanceSnapshots(t *testing.T) {
	scan := func(ctx context.Context, p ScanPayload) ([]opportunity.Opportunity, error) { return nil, nil }
	s := New(logger.New("test"), 2, scan, noopExecute)

	s.requestReports()
	deadline := time.After(time.Second)
	for i := 0; i < 2; i++ {
		select {
		case resp := <-s.Responses():
			s.aggregate(resp)
		case <-deadline:
			t.Fatal("timed out waiting for report responses")
		}
	}
	assert.Len(t, s.Aggregated(), 2)
}

func TestScheduler_RunShutsDownAllWorkersOnCancel(t *testing.T) {
	scan := func(ctx context.Context, p ScanPayload) ([]opportunity.Opportunity, error) { return nil, nil }
	s := New(logger.New("test"), 4, scan, noopExecute)
	s.WithIntervals(10*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, ScanPayload{Chains: []int64{42161}})
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not shut down after context cancellation")
	}
}

func TestScheduler_RunBlocksUntilWorkersActuallyExit(t *testing.T) {
	started := make(chan struct{}, 4)
	var cancelledInScan int32
	scan := func(ctx context.Context, p ScanPayload) ([]opportunity.Opportunity, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done() // blocks until the scheduler actually propagates cancellation
		atomic.AddInt32(&cancelledInScan, 1)
		return nil, nil
	}
	s := New(logger.New("test"), 4, scan, noopExecute)
	s.WithIntervals(5*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, ScanPayload{Chains: []int64{42161}})
		close(done)
	}()

	<-started // at least one worker is blocked inside a scan call
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not shut down after context cancellation")
	}

	// Run only returns after terminateAll's wg.Wait() unblocks, which
	// requires every worker goroutine -- including the one still inside the
	// blocking scan call above -- to have observed cancellation and exited.
	assert.GreaterOrEqual(t, atomic.LoadInt32(&cancelledInScan), int32(1))
}

func TestScheduler_SuperviseRestartsWorkerAfterDelay(t *testing.T) {
	scan := func(ctx context.Context, p ScanPayload) ([]opportunity.Opportunity, error) { return nil, nil }
	s := New(logger.New("test"), 1, scan, noopExecute)

	ctx := context.Background()
	s.mu.Lock()
	var id string
	for wid := range s.workers {
		id = wid
	}
	delete(s.workers, id)
	s.mu.Unlock()

	s.Supervise(ctx, id)
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, ok := s.workers[id]
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}
