package runtime

import "github.com/fluxmesh/fluxmesh/pkg/types"

// QueueMode selects one of the two task-queue layouts of spec.md §4.3.
type QueueMode string

const (
	// QueueModeDynamic uses a single global task queue; any thread may
	// pull any task.
	QueueModeDynamic QueueMode = "dynamic"
	// QueueModePerQuery binds K queues to fixed slices of threads;
	// registered queries are assigned to the K queues round-robin.
	QueueModePerQuery QueueMode = "per_query"
)

// taskQueue is a FIFO channel of tasks plus the thread ids drawing from
// it, so the manager knows which worker threads to address with a
// reconfiguration broadcast for a given subplan.
type taskQueue struct {
	ch      chan Task
	threads []*workerThread
}

func newTaskQueue(capacity int) *taskQueue {
	return &taskQueue{ch: make(chan Task, capacity)}
}

func (q *taskQueue) enqueue(t Task) {
	q.ch <- t
}

// perQueryQueues routes by subplan to the queue it was assigned at
// RegisterQuery time.
type perQueryQueues struct {
	queues map[types.SubPlanId]*taskQueue
}

func newPerQueryQueues() *perQueryQueues {
	return &perQueryQueues{queues: make(map[types.SubPlanId]*taskQueue)}
}
