// Package placement implements Placement & Deployment (C7, spec.md
// §4.7): BottomUp and TopDown algorithms that turn a shared logical plan
// plus a topology into a GlobalExecutionPlan, inserting Network
// Source/Sink pairs at every edge that crosses a worker boundary, and
// the two-phase register/start deployment protocol that installs the
// result onto workers.
package placement
