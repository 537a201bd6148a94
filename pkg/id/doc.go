// Package id provides 128-bit, lexicographically sortable identifiers
// used for recovery log events.
//
// An ID is 16 bytes big-endian: [8 bytes unix ms][8 bytes sequence], so
// byte-wise comparison preserves chronological order and IDs minted in
// the same millisecond stay strictly increasing by sequence. A Generator
// is safe for concurrent use and guards against clock regression by
// pinning to the last observed millisecond.
package id
