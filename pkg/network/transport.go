// Package network implements the Network Exchange (C2, spec.md §4.2):
// a per-worker message transport carrying tuple buffers, events, and
// end-of-stream signals between operator partitions that span a worker
// boundary. A router goroutine demultiplexes inbound frames by partition
// identity onto a shared queue drained by a fixed pool of handler
// goroutines, with a startup barrier so Start does not return until
// every handler is running.
package network

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/fluxmesh/fluxmesh/pkg/log"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// Config configures a Transport.
type Config struct {
	BindAddr      string
	HandlerThreads int // must be >= 2 per spec.md §4.2
	QueueSize     int
}

// routed is one decoded frame plus the partition it was addressed to,
// queued by a connection reader for the router goroutine to dispatch.
type routed struct {
	partition types.Partition
	kind      FrameKind
	body      []byte
}

// Transport is the receiver side of the network exchange: it accepts
// inbound connections from upstream senders and delivers their buffers,
// events, and EOS messages to locally registered partitions.
type Transport struct {
	cfg Config
	ln  net.Listener

	mu            sync.RWMutex
	registrations map[types.Partition]chan Delivery

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	routerInbox chan routed
	handlerJobs chan routed

	readyWG  sync.WaitGroup
	connsWG  sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// NewTransport constructs a Transport bound to cfg.BindAddr but does not
// start listening; call Start for that.
func NewTransport(cfg Config) *Transport {
	if cfg.HandlerThreads < 2 {
		cfg.HandlerThreads = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Transport{
		cfg:           cfg,
		registrations: make(map[types.Partition]chan Delivery),
		conns:         make(map[net.Conn]struct{}),
		routerInbox:   make(chan routed, cfg.QueueSize),
		handlerJobs:   make(chan routed, cfg.QueueSize),
		done:          make(chan struct{}),
	}
}

// RegisterPartition declares interest in a partition before any sender
// announces it. The returned channel receives every Delivery addressed
// to that partition until UnregisterPartition is called.
func (t *Transport) RegisterPartition(p types.Partition) <-chan Delivery {
	ch := make(chan Delivery, t.cfg.QueueSize)
	t.mu.Lock()
	t.registrations[p] = ch
	t.mu.Unlock()
	return ch
}

// UnregisterPartition removes a partition's registration and closes its
// delivery channel. Callers must stop reading from the channel first.
func (t *Transport) UnregisterPartition(p types.Partition) {
	t.mu.Lock()
	ch, ok := t.registrations[p]
	delete(t.registrations, p)
	t.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Start binds the listener, launches the router and handler goroutines,
// and blocks until every handler has signaled ready (spec.md §4.2:
// "form a barrier at startup so start() does not return until all
// handlers are ready").
func (t *Transport) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("network: listen on %s: %w", t.cfg.BindAddr, err)
	}
	t.ln = ln
	t.ctx, t.cancel = context.WithCancel(ctx)

	t.readyWG.Add(t.cfg.HandlerThreads)
	for i := 0; i < t.cfg.HandlerThreads; i++ {
		go t.handlerLoop(i)
	}
	go t.routerLoop()
	go t.acceptLoop()

	t.readyWG.Wait()
	log.WithComponent("network").Info().Str("addr", ln.Addr().String()).Msg("transport started")
	return nil
}

// Addr returns the bound listener address, valid after Start returns.
func (t *Transport) Addr() net.Addr { return t.ln.Addr() }

// Shutdown cancels in-flight work, closes the listener, and waits for
// every connection handler to drain (spec.md §4.2 cancellation
// semantics). After Shutdown the transport is closed and the port
// released.
func (t *Transport) Shutdown() error {
	if t.cancel != nil {
		t.cancel()
	}
	var closeErr error
	if t.ln != nil {
		closeErr = t.ln.Close()
	}
	t.connsMu.Lock()
	for c := range t.conns {
		c.Close()
	}
	t.connsMu.Unlock()
	t.connsWG.Wait()
	close(t.routerInbox)
	<-t.done
	if closeErr != nil {
		return fmt.Errorf("network: close listener: %w", closeErr)
	}
	return nil
}

func (t *Transport) acceptLoop() {
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			select {
			case <-t.ctx.Done():
				return
			default:
				log.Errorf("network: accept failed", err)
				return
			}
		}
		t.connsMu.Lock()
		t.conns[conn] = struct{}{}
		t.connsMu.Unlock()
		t.connsWG.Add(1)
		go t.serveConn(conn)
	}
}

// serveConn runs the handshake then streams subsequent frames into the
// router's inbox until the connection closes or shutdown is signaled.
func (t *Transport) serveConn(conn net.Conn) {
	defer t.connsWG.Done()
	defer conn.Close()
	defer func() {
		t.connsMu.Lock()
		delete(t.conns, conn)
		t.connsMu.Unlock()
	}()

	kind, body, err := readFrame(conn)
	if err != nil {
		return
	}
	if kind != FrameAnnounce {
		writeFrame(conn, FrameError, []byte("expected announce frame"))
		return
	}
	ann, err := decodeJSON[announceMsg](body)
	if err != nil {
		writeFrame(conn, FrameError, []byte("malformed announce frame"))
		return
	}

	t.mu.RLock()
	_, registered := t.registrations[ann.Partition]
	t.mu.RUnlock()
	if !registered {
		msg := fmt.Sprintf("partition %+v not registered", ann.Partition)
		writeFrame(conn, FrameError, []byte(msg))
		log.WithComponent("network").Warn().Interface("partition", ann.Partition).Msg("announce rejected")
		return
	}
	if err := writeFrame(conn, FrameReady, nil); err != nil {
		return
	}

	for {
		kind, body, err := readFrame(conn)
		if err != nil {
			return
		}
		select {
		case t.routerInbox <- routed{partition: ann.Partition, kind: kind, body: body}:
		case <-t.ctx.Done():
			return
		}
	}
}

// routerLoop demultiplexes inbound frames by partition identity and
// forwards them to the shared handler queue (spec.md §4.2: "one router
// thread demultiplexes by identity").
func (t *Transport) routerLoop() {
	defer close(t.handlerJobs)
	for item := range t.routerInbox {
		select {
		case t.handlerJobs <- item:
		case <-t.ctx.Done():
			return
		}
	}
}

// handlerLoop is one of N handler threads pulling from the shared queue
// to decode and deliver frames to their registered partition channel.
func (t *Transport) handlerLoop(id int) {
	t.readyWG.Done()
	for {
		select {
		case item, ok := <-t.handlerJobs:
			if !ok {
				t.maybeDone()
				return
			}
			t.deliver(item)
		case <-t.ctx.Done():
			t.drainAndExit()
			t.maybeDone()
			return
		}
	}
}

func (t *Transport) drainAndExit() {
	for range t.handlerJobs {
		// drop remaining work on cancellation; connections are being torn down
	}
}

func (t *Transport) maybeDone() {
	t.doneOnce.Do(func() { close(t.done) })
}

func (t *Transport) deliver(item routed) {
	t.mu.RLock()
	ch, ok := t.registrations[item.partition]
	t.mu.RUnlock()
	if !ok {
		return
	}
	switch item.kind {
	case FrameData:
		d, err := decodeDataFrame(item.body)
		if err != nil {
			log.Errorf("network: decode data frame", err)
			return
		}
		ch <- Delivery{Kind: types.MsgData, Buffer: d}
	case FrameEvent:
		ev, err := decodeJSON[EventMsg](item.body)
		if err != nil {
			return
		}
		ch <- Delivery{Kind: types.MsgEvent, Event: &ev}
	case FrameEOS:
		eos, err := decodeJSON[EOSMsg](item.body)
		if err != nil {
			return
		}
		ch <- Delivery{Kind: types.MsgEndOfStream, EOS: &eos}
	}
}

