// Package compilecache compiles project snapshots once per distinct content
// and shares the resulting artifacts.
//
// Artifacts are keyed by the snapshot fingerprint and handed out through
// leases. An artifact evicted while leased stays on disk until its last lease
// is released. Concurrent resolves of the same fingerprint share one compile.
package compilecache
