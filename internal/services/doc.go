// Package services defines shared utilities consumed by the capture pipeline
// and its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp session IDs, meeting IDs, segment sequence
//     numbers, and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper, and Classify, which turns
//     a processing failure into a queue disposition (retry vs drop).
//
// Speech-to-text and ledger integrations tag their failures with these markers
// so the segment queue can apply one retry policy regardless of backend.
package services
