package runtime

import (
	"context"

	"github.com/fluxmesh/fluxmesh/pkg/log"
)

// workerThread pulls tasks from its assigned data queue and reconfig
// messages from its own reconfig inbox, giving reconfig priority so a
// thread never runs a data task enqueued after a reconfiguration it has
// already received without running the reconfiguration first (spec.md
// §4.3 ordering guarantee).
type workerThread struct {
	id         int
	dataQueue  chan Task
	reconfigCh chan ReconfigMessage
	quit       chan struct{}
}

func newWorkerThread(id int, dataQueue chan Task) *workerThread {
	return &workerThread{
		id:         id,
		dataQueue:  dataQueue,
		reconfigCh: make(chan ReconfigMessage, 8),
		quit:       make(chan struct{}),
	}
}

func (w *workerThread) run(ctx context.Context, onTaskError func(Task, error)) {
	logger := log.WithComponent("runtime.worker")
	for {
		// Give any pending reconfiguration priority over data tasks.
		select {
		case msg := <-w.reconfigCh:
			msg.observe()
			continue
		default:
		}

		select {
		case msg := <-w.reconfigCh:
			msg.observe()
		case task, ok := <-w.dataQueue:
			if !ok || task.isPoison() {
				return
			}
			if err := task.Exec.Execute(ctx, task.Buf); err != nil {
				logger.Error().Err(err).Str("executable", task.Exec.Name()).Msg("task execution failed")
				onTaskError(task, err)
			}
		case <-w.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *workerThread) stop() {
	close(w.quit)
}
