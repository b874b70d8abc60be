// Package operators implements the Operator Kernels (C4, spec.md §4.4):
// Filter, Map, Project, Union, WatermarkAssign, Window, the supplemented
// Iterate pattern kernel, and Print/Network sinks. Every kernel is a
// PipelineStage wired to its downstream at pipeline-compile time; stream
// joins (C5) live in a separate package since they take two upstream
// branches and own window state beyond a single kernel's scope.
package operators
