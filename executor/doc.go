// Package executor compiles submitted projects and runs them, either inside
// a pooled sandbox container or as a local subprocess.
//
// Execute is the one-shot entry point used by the HTTP and MCP transports:
// it bounds concurrency and total handling time and always produces a Result.
// Prepare and Launch are the building blocks shared with interactive
// terminal sessions, which keep the returned Run attached to a connection.
package executor
