package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/fluxmesh/fluxmesh/pkg/buffer"
	"github.com/fluxmesh/fluxmesh/pkg/config"
	"github.com/fluxmesh/fluxmesh/pkg/errs"
	"github.com/fluxmesh/fluxmesh/pkg/log"
	"github.com/fluxmesh/fluxmesh/pkg/network"
	"github.com/fluxmesh/fluxmesh/pkg/operators"
	"github.com/fluxmesh/fluxmesh/pkg/rowcodec"
	"github.com/fluxmesh/fluxmesh/pkg/runtime"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// lazyNetworkSink stands in for an operators.NetworkSink at compile
// time, before the Sender it needs has been dialed. Executor.Start
// binds it once the dial succeeds; Execute before that point is a
// configuration error, not a data error, since nothing should reach it
// before Start.
type lazyNetworkSink struct {
	mu    sync.RWMutex
	inner operators.PipelineStage
}

func (s *lazyNetworkSink) bind(inner operators.PipelineStage) {
	s.mu.Lock()
	s.inner = inner
	s.mu.Unlock()
}

func (s *lazyNetworkSink) Name() string { return "sink:network(pending)" }

func (s *lazyNetworkSink) Setup(ctx context.Context) error {
	return nil
}

func (s *lazyNetworkSink) Execute(ctx context.Context, buf *buffer.TupleBuffer) error {
	s.mu.RLock()
	inner := s.inner
	s.mu.RUnlock()
	if inner == nil {
		buf.Release()
		return errs.RuntimeSystemError("worker: network sink not bound (Start never dialed its peer)", nil)
	}
	return inner.Execute(ctx, buf)
}

func (s *lazyNetworkSink) Close(ctx context.Context) error {
	s.mu.RLock()
	inner := s.inner
	s.mu.RUnlock()
	if inner == nil {
		return nil
	}
	return inner.Close(ctx)
}

// runningSubplan is the bookkeeping Executor keeps per deployed shared
// plan: the compiled chain, the live network resources it opened, and
// the goroutines draining its Network Source partitions.
type runningSubplan struct {
	subPlanID types.SubPlanId
	compiled  *Compiled
	senders   []*network.Sender
	cancel    context.CancelFunc
}

// PostReconfiguration logs the epoch barrier crossing; a deployed
// worker has nothing further to act on here since the runtime's own
// failure-EOS path already tears the subplan's tasks down.
func (rs *runningSubplan) PostReconfiguration(kind runtime.ReconfigKind, epoch uint64) {
	log.Info(fmt.Sprintf("subplan %d reconfiguration %s reached epoch %d", rs.subPlanID, kind, epoch))
}

// Executor is the worker-side counterpart of placement.WorkerClient: it
// compiles a subplan into a running chain of kernels and drives it
// through a runtime.QueryManager, wiring Network Source/Sink operators
// to the local network.Transport and outbound Senders. A pkg/rpc server
// adapts Register/Start/Stop calls straight through to this type.
type Executor struct {
	cfg       *config.WorkerConfig
	pool      *buffer.Pool
	manager   *runtime.QueryManager
	transport *network.Transport

	mu      sync.Mutex
	running map[types.SharedQueryId]*runningSubplan
}

// NewExecutor wires an Executor around an already-started QueryManager
// and Transport, and a pool sized per cfg.
func NewExecutor(cfg *config.WorkerConfig, pool *buffer.Pool, manager *runtime.QueryManager, transport *network.Transport) *Executor {
	return &Executor{
		cfg:       cfg,
		pool:      pool,
		manager:   manager,
		transport: transport,
		running:   make(map[types.SharedQueryId]*runningSubplan),
	}
}

// Register compiles subplan and registers it with the local
// QueryManager (spec.md §6 worker Register RPC), but does not yet move
// any data: Start does that.
func (e *Executor) Register(ctx context.Context, shared types.SharedQueryId, subplan *types.LogicalPlan) error {
	compiled, err := Compile(subplan, e.pool)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.running[shared]; exists {
		return errs.Validation(fmt.Sprintf("worker: shared plan %d already registered", shared), nil)
	}

	subPlanID := types.SubPlanId(shared)
	rs := &runningSubplan{subPlanID: subPlanID, compiled: compiled}
	e.running[shared] = rs

	numSources := len(compiled.Sources) + len(compiled.NetworkSources)
	numSinks := compiled.SinkCount
	e.manager.RegisterQuery(subPlanID, numSources, compiled.PipelineCount, numSinks, rs)

	log.Info(fmt.Sprintf("registered shared plan %d: %d sources, %d pipeline stages, %d sinks",
		shared, numSources, compiled.PipelineCount, numSinks))
	return nil
}

// Start dials every Network Sink's peer and begins draining every
// Network Source's registered partition (spec.md §6 worker Start RPC).
// Physical Source leaves are not started here: attaching a live
// producer to a physical source is an external collaborator's job
// (spec.md §1 Non-goals), so Register/Start wire the downstream chain
// for a physical Source but nothing pushes data into it on its own.
func (e *Executor) Start(ctx context.Context, shared types.SharedQueryId) error {
	e.mu.Lock()
	rs, ok := e.running[shared]
	e.mu.Unlock()
	if !ok {
		return errs.NotFound(fmt.Sprintf("worker: shared plan %d not registered", shared), nil)
	}

	runCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel

	for _, nsb := range rs.compiled.NetworkSinks {
		sender, err := network.Dial(runCtx, network.SenderConfig{
			Addr:        nsb.Addr,
			Partition:   nsb.Partition,
			MaxRetries:  e.cfg.RetryBudget,
			BackoffBase: e.cfg.RetryBackoffBase,
		})
		if err != nil {
			cancel()
			return errs.Transient(fmt.Sprintf("worker: dial network sink peer %s for partition %v", nsb.Addr, nsb.Partition), err)
		}
		nsb.Placeholder.bind(operators.NewNetworkSink(sender))
		rs.senders = append(rs.senders, sender)
	}

	for _, nsrc := range rs.compiled.NetworkSources {
		deliveries := e.transport.RegisterPartition(nsrc.Partition)
		go e.drainNetworkSource(runCtx, rs, nsrc, deliveries)
	}

	log.Info(fmt.Sprintf("started shared plan %d", shared))
	return nil
}

// drainNetworkSource turns every Delivery for one partition into a
// runtime.Task, until the transport unregisters the partition or the
// subplan is stopped.
func (e *Executor) drainNetworkSource(ctx context.Context, rs *runningSubplan, nsrc NetworkSourceBinding, deliveries <-chan network.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, open := <-deliveries:
			if !open {
				return
			}
			if err := e.submitDelivery(ctx, rs, nsrc, d); err != nil {
				log.Errorf(fmt.Sprintf("worker: subplan %d network source %d", rs.subPlanID, nsrc.OperatorID), err)
			}
		}
	}
}

// submitDelivery reconstructs a pooled TupleBuffer from a decoded
// DataBuffer frame and submits it as a Task for nsrc.Downstream. Event
// and EOS deliveries are acknowledged but not yet propagated into the
// reconfiguration protocol; see DESIGN.md.
func (e *Executor) submitDelivery(ctx context.Context, rs *runningSubplan, nsrc NetworkSourceBinding, d network.Delivery) error {
	if d.Kind != types.MsgData || d.Buffer == nil {
		return nil
	}

	buf, err := e.pool.AcquireUnpooled(len(d.Buffer.Payload))
	if err != nil {
		return err
	}
	buf.Header = d.Buffer.Header
	buf.Payload = append(buf.Payload, d.Buffer.Payload...)
	for _, c := range d.Buffer.Children {
		buf.AttachChild(&buffer.ChildBuffer{Payload: c})
	}

	return e.manager.Submit(runtime.Task{
		Exec:      &downstreamExecutable{stage: nsrc.Downstream},
		Buf:       buf,
		SubPlanID: rs.subPlanID,
	})
}

// downstreamExecutable adapts a compiled operators.PipelineStage to
// runtime.Executable so a Network Source's output can be submitted as a
// Task the same way any other operator's output is.
type downstreamExecutable struct {
	stage operators.PipelineStage
}

func (e *downstreamExecutable) Name() string { return e.stage.Name() }

func (e *downstreamExecutable) Execute(ctx context.Context, buf *buffer.TupleBuffer) error {
	return e.stage.Execute(ctx, buf)
}

// Stop tears the subplan down: cancels its Network Source drain
// goroutines, closes its Senders and any open sink files, and
// unregisters it from the QueryManager (spec.md §6 worker Stop RPC).
func (e *Executor) Stop(ctx context.Context, shared types.SharedQueryId, termination types.TerminationType) error {
	e.mu.Lock()
	rs, ok := e.running[shared]
	if ok {
		delete(e.running, shared)
	}
	e.mu.Unlock()
	if !ok {
		return errs.NotFound(fmt.Sprintf("worker: shared plan %d not registered", shared), nil)
	}

	if rs.cancel != nil {
		rs.cancel()
	}
	for _, nsrc := range rs.compiled.NetworkSources {
		e.transport.UnregisterPartition(nsrc.Partition)
	}
	for _, sender := range rs.senders {
		if err := sender.SendEOS(termination); err != nil {
			log.Errorf(fmt.Sprintf("worker: send EOS for subplan %d", rs.subPlanID), err)
		}
		if err := sender.Close(); err != nil {
			log.Errorf(fmt.Sprintf("worker: close sender for subplan %d", rs.subPlanID), err)
		}
	}
	for _, f := range rs.compiled.Files {
		if err := f.File.Close(); err != nil {
			log.Errorf(fmt.Sprintf("worker: close sink file for operator %d", f.OperatorID), err)
		}
	}

	e.manager.UnregisterQuery(rs.subPlanID)
	log.Info(fmt.Sprintf("stopped shared plan %d", shared))
	return nil
}

// FeedPhysicalSource lets a locally-attached Source Adapter push rows
// into a registered subplan's physical Source leaf. It exists so the
// worker's Register/Start wiring can be exercised end-to-end in tests
// without a real adapter (spec.md §1 Non-goals); production adapters
// would call this from their own goroutine.
func (e *Executor) FeedPhysicalSource(ctx context.Context, shared types.SharedQueryId, operatorID types.OperatorId, schema types.Schema, rows []rowcodec.Row) error {
	e.mu.Lock()
	rs, ok := e.running[shared]
	e.mu.Unlock()
	if !ok {
		return errs.NotFound(fmt.Sprintf("worker: shared plan %d not registered", shared), nil)
	}

	var binding *SourceBinding
	for i := range rs.compiled.Sources {
		if rs.compiled.Sources[i].OperatorID == operatorID {
			binding = &rs.compiled.Sources[i]
			break
		}
	}
	if binding == nil {
		return errs.NotFound(fmt.Sprintf("worker: operator %d is not a registered physical source on shared plan %d", operatorID, shared), nil)
	}

	buf, err := e.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	payload, children, err := rowcodec.Encode(schema, rows)
	if err != nil {
		buf.Release()
		return errs.RuntimeDataError("worker: encode physical source rows", err)
	}
	buf.Header.Magic = types.WireMagic
	buf.Header.MsgType = types.MsgData
	buf.Header.OriginID = binding.OriginID
	buf.Header.TupleCount = uint32(len(rows))
	buf.Payload = append(buf.Payload, payload...)
	for _, c := range children {
		buf.AttachChild(&buffer.ChildBuffer{Payload: c})
	}

	return e.manager.Submit(runtime.Task{
		Exec:      &downstreamExecutable{stage: binding.Downstream},
		Buf:       buf,
		SubPlanID: rs.subPlanID,
	})
}
