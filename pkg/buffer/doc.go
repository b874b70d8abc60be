/*
Package buffer implements the Tuple Buffer & Memory Manager (C1,
spec.md §4.1): a fixed-size Pool handing out reference-counted
TupleBuffer values, plus an unpooled path for variable-size payloads
capped by an UnpooledLimiter.

Acquire blocks on an empty pool; TryAcquire returns ok=false instead,
which callers must treat as backpressure rather than an error. Buffers
are released back to the pool only once every reference has dropped
(TupleBuffer.Release), matching spec.md's requirement that the pool never
releases memory while a downstream consumer still holds a reference.
*/
package buffer
