// Package plan implements the Logical Plan & Rewrite stage (C6, spec.md
// §4.6): filter push-down past operators it commutes with, and
// signature-based containment/equality merging of independently
// submitted plans into a shared plan.
package plan
