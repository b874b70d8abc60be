/*
Package runtime implements the Pipeline Runtime (C3, spec.md §4.3): a
QueryManager owning one or more FIFO task queues and a fixed pool of
worker threads, in either QueueModeDynamic (one global queue) or
QueueModePerQuery (K queues, each bound to a fixed slice of threads).

Reconfiguration is a broadcast protocol: Reconfigure sends one
ReconfigMessage per worker thread addressed by a subplan, and the last
thread to observe its copy invokes the target's PostReconfiguration
callback. Each worker thread checks its own reconfiguration inbox ahead
of its data queue, so a thread never executes a data task enqueued after
a reconfiguration it has already received without first running that
reconfiguration.

End-of-stream accounting tracks one token counter per subplan,
initialized to 1 + sources + pipelines + sinks; CompleteParticipant
decrements it once per participant completion and reports when only the
subplan's own token remains. Stop implements the three termination
classes (Graceful, HardStop, Failure) against a SubplanHandle supplied by
the pipeline/placement layer.
*/
package runtime
