// Package preflight provides readiness checks for the external services,
// binaries and filesystem paths callscribe depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll at startup and logs every failed check.
//   - The CLI "callscribe status" command shows the same results next to
//     the daemon state.
//
// Each check is gated by its config toggle; disabled features are skipped.
package preflight
