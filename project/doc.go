// Package project models a submitted multi-file source project.
//
// A Snapshot is the ordered, validated set of SourceFiles a client submitted.
// Its Fingerprint is a content digest that is independent of submission
// order and is used as the compilation cache key. The package also writes
// snapshots to disk and collects the files a program changed while running.
package project
