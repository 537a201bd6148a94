package queue

import (
	"encoding/binary"
)

// Key layout. Index keys use big-endian fixed-width components so Pebble's
// bytewise ordering matches the scheduling order.
//
//	cq/meta                                    last assigned entry id (8B)
//	cq/entry/{id8}                             framed entry record
//	cq/ready_idx/{prio4}/{created8}/{id8}      claimable entries
//	cq/lease_idx/{expires8}/{id8}              active claims by expiry
//	cq/dedupe/{key}                            live dedupe reservation -> id8
const (
	metaKeyStr     = "cq/meta"
	entryPrefix    = "cq/entry/"
	readyIdxPrefix = "cq/ready_idx/"
	leaseIdxPrefix = "cq/lease_idx/"
	dedupePrefix   = "cq/dedupe/"
)

func metaKey() []byte { return []byte(metaKeyStr) }

func entryKey(id EntryID) []byte {
	key := make([]byte, len(entryPrefix)+8)
	copy(key, entryPrefix)
	binary.BigEndian.PutUint64(key[len(entryPrefix):], uint64(id))
	return key
}

// readyIdxKey orders claimable entries by (priority, creation time, id).
// The priority sign bit is flipped so signed values sort ascending under
// bytewise comparison.
func readyIdxKey(prio Priority, createdAtMs int64, id EntryID) []byte {
	key := make([]byte, len(readyIdxPrefix)+4+8+8)
	copy(key, readyIdxPrefix)
	off := len(readyIdxPrefix)
	binary.BigEndian.PutUint32(key[off:], uint32(prio)^0x80000000)
	binary.BigEndian.PutUint64(key[off+4:], uint64(createdAtMs))
	binary.BigEndian.PutUint64(key[off+12:], uint64(id))
	return key
}

// leaseIdxKey orders active claims by expiry so expire-claims can stop at
// the first unexpired lease.
func leaseIdxKey(expiresAtMs int64, id EntryID) []byte {
	key := make([]byte, len(leaseIdxPrefix)+8+8)
	copy(key, leaseIdxPrefix)
	binary.BigEndian.PutUint64(key[len(leaseIdxPrefix):], uint64(expiresAtMs))
	binary.BigEndian.PutUint64(key[len(leaseIdxPrefix)+8:], uint64(id))
	return key
}

func dedupeKey(k DedupeKey) []byte {
	return append([]byte(dedupePrefix), k...)
}

// keyRange returns iterator bounds covering all keys under prefix. The
// exclusive upper bound is the prefix successor, so components whose
// first byte is 0xFF (a sign-flipped priority >= 0x7F000000) still fall
// inside the range.
func keyRange(prefix string) (lo, hi []byte) {
	lo = []byte(prefix)
	hi = prefixSuccessor(lo)
	return lo, hi
}

// prefixSuccessor returns the smallest key greater than every key that
// has prefix p: increment the last incrementable byte and truncate.
func prefixSuccessor(p []byte) []byte {
	hi := append([]byte(nil), p...)
	for i := len(hi) - 1; i >= 0; i-- {
		if hi[i] < 0xFF {
			hi[i]++
			return hi[:i+1]
		}
	}
	// All 0xFF: no upper bound.
	return nil
}

// idFromIndexKey extracts the trailing 8-byte entry id from an index key.
func idFromIndexKey(key []byte) (EntryID, bool) {
	if len(key) < 8 {
		return 0, false
	}
	return EntryID(binary.BigEndian.Uint64(key[len(key)-8:])), true
}

// expiryFromLeaseKey extracts the expiry component of a lease index key.
func expiryFromLeaseKey(key []byte) (int64, bool) {
	if len(key) != len(leaseIdxPrefix)+16 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(key[len(leaseIdxPrefix) : len(leaseIdxPrefix)+8])), true
}

func encodeEntryID(id EntryID) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

func decodeEntryID(b []byte) (EntryID, bool) {
	if len(b) != 8 {
		return 0, false
	}
	return EntryID(binary.BigEndian.Uint64(b)), true
}
