package eventlog

import (
	"encoding/binary"
	"hash/crc32"
)

// Record encoding: payload | crc32c(payload)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// EncodeRecord frames payload with a checksum.
func EncodeRecord(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+4)
	out = append(out, payload...)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc32.Checksum(payload, castagnoli))
	return append(out, crcb[:]...)
}

// DecodeRecord returns a copy of the payload, or false when the frame is
// truncated or the checksum does not match.
func DecodeRecord(b []byte) ([]byte, bool) {
	if len(b) < 4 {
		return nil, false
	}
	payload := b[:len(b)-4]
	if crc32.Checksum(payload, castagnoli) != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return nil, false
	}
	return append([]byte(nil), payload...), true
}
