/*
Package network implements the Network Exchange (C2, spec.md §4.2): the
per-worker transport that carries tuple buffers, custom events, and
end-of-stream signals across a partition that spans a worker boundary.

A Transport is the receiver side: it binds host:port, accepts inbound
connections, and runs a single router goroutine that demultiplexes
frames by Partition identity onto a shared queue drained by a
configurable pool of handler goroutines. Start blocks until every
handler has signaled ready, matching the startup barrier spec.md
requires. A Sender is the upstream side: it dials a Transport, announces
the Partition it intends to push, and retries with exponential backoff
until the receiver answers Ready or the retry budget is exhausted.
*/
package network
