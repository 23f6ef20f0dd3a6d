// Package ir defines the persistent data model for prestige: runbooks,
// runbook entries, compiled plan versions, gate requests, and execution
// outcomes, together with the canonical JSON serialization and
// content-addressed hashing used to give compiled artifacts a stable
// identity.
//
// Everything that executes is first frozen into a CompiledPlan. The types
// here are deliberately constrained: argument values are a sealed set of
// variants (no floats in hashed material), and status transitions are
// validated by CanTransition rather than left to callers.
package ir
