package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version   byte = 1
	kindEntry byte = 1
)

var (
	ErrCorrupt = errors.New("casflight: corrupt entry")
	magic4     = [...]byte{'C', 'F', 'L', 'T'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Entry: magic(4) | ver(1) | kind(1=entry) | gen(u64 be) | fetchedAt(u64 be, unix nanos) | vlen(u32 be) | payload(vlen)
//
// fetchedAt travels inside the frame so freshness can be validated on read
// even when the provider has no per-entry TTL (e.g. BigCache).
func EncodeEntry(gen uint64, fetchedAt int64, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 8 + 4 + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], gen)
	buf.Write(u8[:])

	binary.BigEndian.PutUint64(u8[:], uint64(fetchedAt))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// DecodeEntry is strict: short buffers, bad headers, and trailing bytes are
// all ErrCorrupt. The payload slice aliases b (zero-copy).
func DecodeEntry(b []byte) (gen uint64, fetchedAt int64, payload []byte, err error) {
	const hdr = 4 + 1 + 1 + 8 + 8 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return 0, 0, nil, ErrCorrupt
	}

	off := 6

	gen = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	fetchedAt = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return 0, 0, nil, ErrCorrupt
	}

	return gen, fetchedAt, b[off : off+vlen], nil
}
