// Command callscribe runs the meeting transcription daemon and controls it
// over the local IPC socket.
//
// Session commands (start, stop, pause, resume, transcribe, capture) act on
// the daemon's active session. The daemon itself is launched on demand by
// start and stopped with shutdown. The signer command runs the privileged
// side of the ledger proxy and is meant to live outside the daemon's trust
// boundary.
package main
