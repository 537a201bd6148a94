// Package worker implements the claim-side loop: it claims entries one
// at a time, keeps the lease renewed while a handler runs, removes the
// entry on success and releases it on failure, and sweeps lapsed claims
// on a timer. Transient store errors retry with bounded jittered backoff.
package worker
