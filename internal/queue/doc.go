// Package queue implements the single-consumer segment queue that drives each
// captured segment through transcription and ledger publication.
//
// Segments are processed strictly in arrival order. A segment that fails
// transiently is put back at the head with its attempt counter raised, so no
// later segment can overtake it; once a segment exhausts MaxAttempts the whole
// queue pauses until an operator calls Reset or Resume. Undersized or
// unsupported payloads are permanent failures and are dropped without a retry.
//
// An optional Journal mirrors the pending list so a daemon restart picks up
// where it left off, attempt counts included.
package queue
