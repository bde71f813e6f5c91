// Package httpserver exposes the engine over HTTP using gin: the one-shot
// execute endpoint, the websocket terminal, health and prometheus metrics.
package httpserver
