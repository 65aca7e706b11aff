// Package ledger defines the messages callscribe publishes to a meeting's
// ledger topic and the Signer used by the privileged side to create topics
// and submit messages through a signing relay.
package ledger
