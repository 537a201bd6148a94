// Package queue implements the claim-based coordination queue: validated
// identifier types, the claim state machine, the queue entry aggregate,
// and the Pebble-backed repository that provides atomic add, claim-next,
// release, renew, expire, and remove operations.
//
// The repository is the only component allowed to mutate entries. Every
// mutating operation executes as a single Pebble batch, so concurrent
// callers never observe a partially applied transition, and claim-next
// hands a given entry to exactly one caller per claim epoch.
package queue
