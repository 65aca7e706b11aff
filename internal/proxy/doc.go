// Package proxy runs ledger operations that need the signing key in a
// separate privileged context and presents them to the daemon as ordinary
// calls.
//
// A Proxy hands an Envelope to a Transport and waits for a single Reply. The
// daemon's Transport is the websocket Hub: privileged contexts (normally
// `callscribe signer`, running a Responder) connect to /ws/privileged and the
// most recently active one receives each request. Requests are correlated by
// a uuid and bounded by a timeout, so a silent context surfaces as an
// OperationError instead of a hang.
package proxy
