// Package daemon coordinates the long-running callscribe process.
//
// It ties the session coordinator, the segment queue and the privileged
// websocket hub into a single lifecycle with flock-based locking to prevent
// multiple instances. The daemon exposes the control operations used by the
// IPC server and the HTTP API, and serves the API itself with chi.
//
// Keep orchestration here: capture, transcription and publishing live in
// their own packages while the daemon focuses on startup, shutdown and
// routing requests to them.
package daemon
