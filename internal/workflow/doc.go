// Package workflow holds the per-segment processing the queue delegates to.
//
// Processor spools segments of sessions that only record, and for
// transcribing sessions runs speech-to-text, formats the ledger transcription
// message and submits it through the privileged proxy. PauseNotifier turns a
// queue pause into an operator notification.
package workflow
