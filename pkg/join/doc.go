// Package join implements the Stream Join Engine (C5, spec.md §4.5):
// nested-loop and hash-partitioned equi-joins over an event-time window,
// sharing one Build/Probe protocol. Build accumulates tuples into a
// per-window slice store; Probe fires a window once the minimum
// watermark across contributing origins strictly exceeds the window's
// end, emitting (window_start, window_end, key, left.*, right.*).
package join
