// Package apperr defines the error taxonomy of the execution engine.
//
// Every failure that can reach the orchestration boundary carries a Code.
// The executor converts coded errors into well-formed execution results, so
// callers never see a raw error from a run.
package apperr
