package queue

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
)

// Stored record framing: payload | crc32c(payload), 4 bytes big-endian.
// The checksum is how structural corruption is detected at read time.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// EncodeRecord frames a payload with its checksum.
func EncodeRecord(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+4)
	out = append(out, payload...)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], crc32.Checksum(payload, castagnoli))
	return append(out, cb[:]...)
}

// DecodeRecord verifies the frame and returns the payload. A failed check
// is a fatal error wrapping ErrCorruptRecord.
func DecodeRecord(b []byte) ([]byte, error) {
	if len(b) < 4 {
		return nil, errorf(KindFatal, "decode record", "%w: truncated frame (%d bytes)", ErrCorruptRecord, len(b))
	}
	payload := b[:len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	if crc32.Checksum(payload, castagnoli) != expect {
		return nil, errorf(KindFatal, "decode record", "%w: checksum mismatch", ErrCorruptRecord)
	}
	return append([]byte(nil), payload...), nil
}

// encodeEntry serializes an entry into a framed record.
func encodeEntry(e Entry) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, wrapErr(KindFatal, "encode entry", err)
	}
	return EncodeRecord(payload), nil
}

// decodeEntry verifies and deserializes a framed entry record.
func decodeEntry(b []byte) (Entry, error) {
	payload, err := DecodeRecord(b)
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := json.Unmarshal(payload, &e); err != nil {
		return Entry{}, wrapErr(KindFatal, "decode entry", err)
	}
	return e, nil
}
