// Package logging assembles structured slog loggers and formatting helpers used
// across callscribe components.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so pipeline code can tag log
// lines with session IDs, meeting IDs, segment sequence numbers, and
// correlation IDs. EventHub keeps a bounded window of recent events that the
// daemon exposes to `callscribe logs`.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape as the rest of the system.
package logging
