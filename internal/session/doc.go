// Package session owns recording sessions and wires their capture into the
// segment queue.
//
// The Coordinator drives each session through detected, recording,
// transcribing, completed and error. Only one session captures at a time;
// starting a second one fails with ErrSessionConflict. Before the first
// recording of a meeting the coordinator resolves the meeting's ledger topic,
// creating it through the privileged proxy at most once per meeting. While a
// session captures it publishes meeting_start, periodic heartbeat and
// meeting_end messages to that topic.
//
// The coordinator also answers the queue's IsCapturing question and the
// workflow processor's Target lookups, so segments of a session that ended
// are discarded rather than published.
package session
