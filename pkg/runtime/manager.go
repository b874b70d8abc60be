package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/fluxmesh/fluxmesh/pkg/errs"
	"github.com/fluxmesh/fluxmesh/pkg/ids"
	"github.com/fluxmesh/fluxmesh/pkg/log"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// Config configures a QueryManager.
type Config struct {
	Mode QueueMode
	// NumThreads is the total worker thread count. In QueueModePerQuery
	// it is split evenly across QueuesPerQuery queues.
	NumThreads     int
	QueuesPerQuery int
	QueueCapacity  int
}

// QueryManager is the Pipeline Runtime's per-worker scheduler (C3,
// spec.md §4.3): it owns one or more task queues and a fixed pool of
// worker threads, and mediates the reconfiguration protocol and
// end-of-stream token accounting for every subplan it runs.
type QueryManager struct {
	cfg Config

	threads []*workerThread

	dynamicQueue *taskQueue
	queryQueues  []*taskQueue

	mu              sync.RWMutex
	queryAssignment map[types.SubPlanId]int
	failureTargets  map[types.SubPlanId]PostReconfigurable

	eos      *eosTracker
	epochGen ids.Generator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueryManager constructs a QueryManager. Call Start before
// registering queries or submitting tasks.
func NewQueryManager(cfg Config) *QueryManager {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 256
	}
	if cfg.Mode == "" {
		cfg.Mode = QueueModeDynamic
	}
	if cfg.Mode == QueueModePerQuery && cfg.QueuesPerQuery <= 0 {
		cfg.QueuesPerQuery = 1
	}
	return &QueryManager{
		cfg:             cfg,
		queryAssignment: make(map[types.SubPlanId]int),
		failureTargets:  make(map[types.SubPlanId]PostReconfigurable),
		eos:             newEOSTracker(),
	}
}

// Start launches the worker thread pool per the configured QueueMode.
func (m *QueryManager) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)

	switch m.cfg.Mode {
	case QueueModePerQuery:
		threadsPerQueue := m.cfg.NumThreads / m.cfg.QueuesPerQuery
		if threadsPerQueue < 1 {
			threadsPerQueue = 1
		}
		id := 0
		for q := 0; q < m.cfg.QueuesPerQuery; q++ {
			tq := newTaskQueue(m.cfg.QueueCapacity)
			for j := 0; j < threadsPerQueue; j++ {
				th := newWorkerThread(id, tq.ch)
				id++
				tq.threads = append(tq.threads, th)
				m.threads = append(m.threads, th)
				m.startThread(th)
			}
			m.queryQueues = append(m.queryQueues, tq)
		}
	default:
		m.dynamicQueue = newTaskQueue(m.cfg.QueueCapacity)
		for i := 0; i < m.cfg.NumThreads; i++ {
			th := newWorkerThread(i, m.dynamicQueue.ch)
			m.dynamicQueue.threads = append(m.dynamicQueue.threads, th)
			m.threads = append(m.threads, th)
			m.startThread(th)
		}
	}

	log.WithComponent("runtime.manager").Info().
		Str("mode", string(m.cfg.Mode)).Int("threads", len(m.threads)).Msg("query manager started")
}

func (m *QueryManager) startThread(th *workerThread) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		th.run(m.ctx, m.onTaskError)
	}()
}

// RegisterQuery initializes the EOS token counter for subplan (spec.md
// §4.3: "1 + |sources| + |pipelines| + |sinks|") and, in per-query mode,
// assigns it round-robin to one of the K queues. failureTarget receives
// the PostReconfiguration callback should any task for this subplan fail.
func (m *QueryManager) RegisterQuery(subplan types.SubPlanId, numSources, numPipelines, numSinks int, failureTarget PostReconfigurable) {
	m.eos.init(subplan, numSources, numPipelines, numSinks)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.failureTargets[subplan] = failureTarget
	if m.cfg.Mode == QueueModePerQuery {
		idx := len(m.queryAssignment) % len(m.queryQueues)
		m.queryAssignment[subplan] = idx
	}
}

// UnregisterQuery drops bookkeeping for a finished subplan.
func (m *QueryManager) UnregisterQuery(subplan types.SubPlanId) {
	m.eos.forget(subplan)
	m.mu.Lock()
	delete(m.queryAssignment, subplan)
	delete(m.failureTargets, subplan)
	m.mu.Unlock()
}

// Submit enqueues a task on the queue appropriate for its subplan.
func (m *QueryManager) Submit(task Task) error {
	if m.cfg.Mode == QueueModePerQuery {
		m.mu.RLock()
		idx, ok := m.queryAssignment[task.SubPlanID]
		m.mu.RUnlock()
		if !ok {
			return errs.NotFound(fmt.Sprintf("runtime: subplan %d not registered", task.SubPlanID), nil)
		}
		m.queryQueues[idx].enqueue(task)
		return nil
	}
	m.dynamicQueue.enqueue(task)
	return nil
}

// threadsFor returns the worker threads that may process subplan's
// tasks: every thread in dynamic mode (any of them may pull a task for
// any subplan from the shared queue), or only the threads bound to the
// subplan's assigned queue in per-query mode.
func (m *QueryManager) threadsFor(subplan types.SubPlanId) ([]*workerThread, error) {
	if m.cfg.Mode == QueueModePerQuery {
		m.mu.RLock()
		idx, ok := m.queryAssignment[subplan]
		m.mu.RUnlock()
		if !ok {
			return nil, errs.NotFound(fmt.Sprintf("runtime: subplan %d not registered", subplan), nil)
		}
		return m.queryQueues[idx].threads, nil
	}
	return m.threads, nil
}

// Reconfigure broadcasts one reconfiguration message per addressed
// worker thread (spec.md §4.3). target.PostReconfiguration fires once
// every addressed thread has observed the message.
func (m *QueryManager) Reconfigure(subplan types.SubPlanId, kind ReconfigKind, target PostReconfigurable) error {
	threads, err := m.threadsFor(subplan)
	if err != nil {
		return err
	}
	epoch := m.epochGen.Next()
	barrier := &reconfigBarrier{kind: kind, epoch: epoch, target: target}
	barrier.remaining.Store(int32(len(threads)))
	for _, th := range threads {
		th.reconfigCh <- ReconfigMessage{Kind: kind, SubPlanID: subplan, Epoch: epoch, barrier: barrier}
	}
	return nil
}

// CompleteParticipant decrements subplan's EOS token counter for one
// source, pipeline, or sink completion, reporting whether the subplan
// has now reached its self-token and is finished.
func (m *QueryManager) CompleteParticipant(subplan types.SubPlanId) bool {
	_, finished := m.eos.decrement(subplan)
	return finished
}

// onTaskError is the default error handler for a failed Execute call: it
// posts a failure reconfiguration for the task's subplan whenever the
// error is a system-level condition, per spec.md §4.3's closing failure
// semantics. Data-dependent errors (classified by the kernel itself) are
// not escalated here.
func (m *QueryManager) onTaskError(task Task, err error) {
	if !errs.Is(err, errs.KindRuntimeSystemErr) && !errs.Is(err, errs.KindFatal) {
		return
	}
	m.mu.RLock()
	target, ok := m.failureTargets[task.SubPlanID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if rerr := m.Reconfigure(task.SubPlanID, ReconfigFailureEOS, target); rerr != nil {
		log.Errorf("runtime: failed to post failure reconfiguration", rerr)
	}
}

// Shutdown sends a poison pill to every worker thread and waits for all
// of them to exit.
func (m *QueryManager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.dynamicQueue != nil {
		for range m.threads {
			m.dynamicQueue.enqueue(PoisonPill())
		}
	}
	for _, q := range m.queryQueues {
		for range q.threads {
			q.enqueue(PoisonPill())
		}
	}
	m.wg.Wait()
}
