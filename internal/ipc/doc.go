// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships the
// matching client used by the CLI.
//
// The server owns the socket file: it removes a stale socket on start and
// cleans up on Close. Request and response types live in types.go; session
// and queue snapshots travel as their own JSON shapes so the HTTP API and the
// CLI print the same fields.
package ipc
