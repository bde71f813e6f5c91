// Package metrics exposes Prometheus collectors for the execution engine.
//
// A nil *Metrics is valid and records nothing, which keeps tests and
// embedded uses free of registry plumbing.
package metrics
