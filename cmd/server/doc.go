// Package main is the entry point for the runbox server.
//
// runbox compiles and runs multi-file Java projects inside warm sandbox
// containers. It serves a one-shot REST endpoint, an interactive websocket
// terminal and, optionally, a Model Context Protocol tool over stdio or HTTP.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
