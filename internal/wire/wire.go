// Package wire frames entries stored in remote byte backends.
//
// Dumb byte stores (e.g. Redis strings) cannot carry per-entry expiry
// semantics on their own: a sliding entry must be recognizable as sliding on
// the read path so the handle can re-arm its TTL. The envelope records the
// expiration mode and timeout next to the payload; strict validation lets a
// handle treat foreign or damaged bytes as corruption and self-heal.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const version byte = 1

// Entry layout: magic(4) | ver(1) | expMode(1) | timeoutMs(u64 be) | vlen(u32 be) | payload(vlen)
const headerLen = 4 + 1 + 1 + 8 + 4

var (
	ErrCorrupt = errors.New("wire: corrupt entry")
	magic4     = [...]byte{'T', 'K', 'V', 'E'}
)

// EncodeEntry frames payload with its expiration metadata.
// Negative timeouts are stored as zero.
func EncodeEntry(expMode byte, timeout time.Duration, payload []byte) []byte {
	ms := timeout.Milliseconds()
	if ms < 0 {
		ms = 0
	}

	b := make([]byte, 0, headerLen+len(payload))
	b = append(b, magic4[:]...)
	b = append(b, version, expMode)
	b = binary.BigEndian.AppendUint64(b, uint64(ms))
	b = binary.BigEndian.AppendUint32(b, uint32(len(payload)))
	b = append(b, payload...)
	return b
}

// DecodeEntry validates and splits a framed entry. The returned payload
// aliases b (zero-copy). Trailing bytes beyond the declared length are
// treated as corruption.
func DecodeEntry(b []byte) (expMode byte, timeout time.Duration, payload []byte, err error) {
	if len(b) < headerLen || !bytes.Equal(b[:4], magic4[:]) || b[4] != version {
		return 0, 0, nil, ErrCorrupt
	}

	off := 5
	expMode = b[off]
	off++

	ms := binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen != len(b)-off {
		return 0, 0, nil, ErrCorrupt
	}

	return expMode, time.Duration(ms) * time.Millisecond, b[off : off+vlen], nil
}
