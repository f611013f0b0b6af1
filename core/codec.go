package core

import "encoding/binary"

// Shared little-endian, length-prefixed wire primitives used by
// PaymentProof.canonicalBytes, discovery message encodings, and MeshPacket
// framing (spec §6) so the module has exactly one serialization convention.

func leAppendUint32(buf []byte, v uint32) []byte { return binary.LittleEndian.AppendUint32(buf, v) }
func leAppendUint64(buf []byte, v uint64) []byte { return binary.LittleEndian.AppendUint64(buf, v) }
func leAppendInt64(buf []byte, v int64) []byte {
	return binary.LittleEndian.AppendUint64(buf, uint64(v))
}

func leUint32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
func leUint64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }
func leInt64(b []byte) int64   { return int64(binary.LittleEndian.Uint64(b)) }

func appendNodeIDs(buf []byte, ids []NodeId) []byte {
	buf = leAppendUint64(buf, uint64(len(ids)))
	for _, id := range ids {
		buf = append(buf, id[:]...)
	}
	return buf
}

func readNodeIDs(b []byte) (ids []NodeId, rest []byte, err error) {
	if len(b) < 8 {
		return nil, nil, NewError(KindInvalidPacket, "truncated node id list length")
	}
	n := leUint64(b[0:8])
	b = b[8:]
	ids = make([]NodeId, 0, n)
	for i := uint64(0); i < n; i++ {
		if len(b) < 32 {
			return nil, nil, NewError(KindInvalidPacket, "truncated node id list")
		}
		var id NodeId
		copy(id[:], b[0:32])
		ids = append(ids, id)
		b = b[32:]
	}
	return ids, b, nil
}
