package core

import (
	"time"
)

// maxRouteHops bounds route length against the packet size ceiling spec §8
// expresses as ⌈max_packet/32⌉ — a 32-byte NodeId per hop.
func maxRouteHops(maxPacketBytes int) int {
	return (maxPacketBytes + 31) / 32
}

// PacketType distinguishes a user-payload MeshPacket from the discovery
// control messages that ride the same wire framing (spec §6 supplement:
// original_source/src/packet.rs carries both under one envelope).
type PacketType uint8

const (
	PacketData PacketType = iota
	PacketRouteRequest
	PacketRouteResponse
	PacketRouteAdvertisement
)

const meshPacketVersion = 1

// MeshPacket is the envelope carried between mesh nodes (spec §3). Route is
// the accumulated path of node ids the packet has traversed so far.
type MeshPacket struct {
	Version     uint8
	Type        PacketType
	Source      NodeId
	Destination NodeId
	Route       []NodeId
	Sequence    uint64
	Timestamp   int64
	Proof       *PaymentProof
	Payload     []byte
	Metadata    map[string]string
}

// Validate enforces the structural invariants spec §3/§8 require before a
// packet is handed to the forwarder: version match, non-zero
// source/destination, a route bracketed by source and destination
// (route[0] == source, route.last == destination, 1 ≤ len ≤
// ⌈max_packet/32⌉), and an overall encoded size within max_packet_bytes.
func (p *MeshPacket) Validate(maxPacketBytes int) error {
	if p.Version != meshPacketVersion {
		return NewError(KindInvalidPacket, "unsupported packet version")
	}
	if p.Destination.IsZero() {
		return NewError(KindInvalidPacket, "zero destination")
	}
	if p.Source.IsZero() {
		return NewError(KindInvalidPacket, "zero source")
	}
	if len(p.Route) == 0 {
		return NewError(KindInvalidPacket, "empty route")
	}
	if len(p.Route) > maxRouteHops(maxPacketBytes) {
		return NewError(KindInvalidPacket, "route exceeds max hop bound")
	}
	if p.Route[0] != p.Source {
		return NewError(KindInvalidPacket, "route does not start at source")
	}
	if p.Route[len(p.Route)-1] != p.Destination {
		return NewError(KindInvalidPacket, "route does not end at destination")
	}
	if len(p.Route) == 1 && p.Source != p.Destination {
		return NewError(KindInvalidPacket, "single-hop route requires source == destination")
	}
	if len(EncodeMeshPacket(p)) > maxPacketBytes {
		return NewError(KindInvalidPacket, "serialized packet exceeds max packet size")
	}
	return nil
}

// IsForMe reports whether this node is the packet's final destination.
func (p *MeshPacket) IsForMe(self NodeId) bool {
	return p.Destination == self
}

// ShouldForward reports whether this node should relay the packet onward:
// not already the destination, and the packet hasn't exceeded the hop
// budget implied by its accumulated route.
func (p *MeshPacket) ShouldForward(self NodeId, maxHops int) bool {
	if p.IsForMe(self) {
		return false
	}
	return len(p.Route) < maxHops
}

// GetNextHop returns the packet's destination, which the route invariant
// (route.last == destination) guarantees is always the last route element.
// Forwarders use this to short-circuit routing-table/discovery lookups
// when the destination itself happens to be a direct peer; otherwise the
// caller falls back to the routing table.
func (p *MeshPacket) GetNextHop() (NodeId, bool) {
	if len(p.Route) == 0 {
		return ZeroNodeId, false
	}
	return p.Route[len(p.Route)-1], true
}

// AddToRoute splices self into the packet's route immediately before the
// destination, returning a new packet value so callers never mutate a
// packet another goroutine may still be reading (spec §9 "route mutation on
// forward"). If self is already present in the route the packet is
// returned unchanged, preserving idempotence and keeping the route from
// growing without bound if a loop ever hands the packet back to a node it
// already visited.
func (p *MeshPacket) AddToRoute(self NodeId) *MeshPacket {
	for _, id := range p.Route {
		if id == self {
			return p
		}
	}
	next := *p
	if len(p.Route) == 0 {
		next.Route = []NodeId{self}
		return &next
	}
	spliced := make([]NodeId, 0, len(p.Route)+1)
	spliced = append(spliced, p.Route[:len(p.Route)-1]...)
	spliced = append(spliced, self, p.Route[len(p.Route)-1])
	next.Route = spliced
	return &next
}

var meshPacketMagic = [4]byte{0x4D, 0x45, 0x53, 0x48} // "MESH", the same bytes as policy.go's meshMagic

// EncodeMeshPacket serializes a packet using the module's canonical
// little-endian, length-prefixed framing (spec §6).
func EncodeMeshPacket(p *MeshPacket) []byte {
	buf := append([]byte{}, meshPacketMagic[:]...)
	buf = append(buf, p.Version, byte(p.Type))
	buf = append(buf, p.Source[:]...)
	buf = append(buf, p.Destination[:]...)
	buf = appendNodeIDs(buf, p.Route)
	buf = leAppendUint64(buf, p.Sequence)
	buf = leAppendInt64(buf, p.Timestamp)

	if p.Proof != nil {
		buf = append(buf, 1)
		proofBytes := p.Proof.canonicalBytes()
		buf = leAppendUint64(buf, uint64(len(proofBytes)))
		buf = append(buf, proofBytes...)
	} else {
		buf = append(buf, 0)
	}

	buf = appendLenPrefixed(buf, p.Payload)

	buf = leAppendUint64(buf, uint64(len(p.Metadata)))
	for k, v := range p.Metadata {
		buf = appendLenPrefixed(buf, []byte(k))
		buf = appendLenPrefixed(buf, []byte(v))
	}
	return buf
}

// DecodeMeshPacket parses the framing EncodeMeshPacket produces.
func DecodeMeshPacket(b []byte) (*MeshPacket, error) {
	if len(b) < 4 || [4]byte(b[0:4]) != meshPacketMagic {
		return nil, NewError(KindInvalidPacket, "bad mesh packet magic")
	}
	b = b[4:]
	if len(b) < 2+32+32 {
		return nil, NewError(KindInvalidPacket, "truncated mesh packet header")
	}
	p := &MeshPacket{Version: b[0], Type: PacketType(b[1])}
	b = b[2:]
	copy(p.Source[:], b[0:32])
	copy(p.Destination[:], b[32:64])
	b = b[64:]

	route, b, err := readNodeIDs(b)
	if err != nil {
		return nil, err
	}
	p.Route = route

	if len(b) < 16 {
		return nil, NewError(KindInvalidPacket, "truncated sequence/timestamp")
	}
	p.Sequence = leUint64(b[0:8])
	p.Timestamp = leInt64(b[8:16])
	b = b[16:]

	if len(b) < 1 {
		return nil, NewError(KindInvalidPacket, "truncated proof presence flag")
	}
	hasProof := b[0]
	b = b[1:]
	if hasProof == 1 {
		if len(b) < 8 {
			return nil, NewError(KindInvalidPacket, "truncated proof length")
		}
		n := leUint64(b[0:8])
		b = b[8:]
		if uint64(len(b)) < n {
			return nil, NewError(KindInvalidPacket, "truncated proof bytes")
		}
		proof, err := decodePaymentProof(b[:n])
		if err != nil {
			return nil, err
		}
		p.Proof = proof
		b = b[n:]
	}

	payload, b, err := readLenPrefixed(b)
	if err != nil {
		return nil, err
	}
	p.Payload = payload

	if len(b) < 8 {
		return nil, NewError(KindInvalidPacket, "truncated metadata count")
	}
	count := leUint64(b[0:8])
	b = b[8:]
	if count > 0 {
		p.Metadata = make(map[string]string, count)
	}
	for i := uint64(0); i < count; i++ {
		var key, val []byte
		key, b, err = readLenPrefixed(b)
		if err != nil {
			return nil, err
		}
		val, b, err = readLenPrefixed(b)
		if err != nil {
			return nil, err
		}
		p.Metadata[string(key)] = string(val)
	}
	return p, nil
}

func readLenPrefixed(b []byte) (data []byte, rest []byte, err error) {
	if len(b) < 8 {
		return nil, nil, NewError(KindInvalidPacket, "truncated length prefix")
	}
	n := leUint64(b[0:8])
	b = b[8:]
	if uint64(len(b)) < n {
		return nil, nil, NewError(KindInvalidPacket, "truncated length-prefixed field")
	}
	return b[:n], b[n:], nil
}

func decodePaymentProof(b []byte) (*PaymentProof, error) {
	if len(b) < 1 {
		return nil, NewError(KindInvalidPacket, "empty payment proof")
	}
	p := &PaymentProof{Kind: ProofKind(b[0])}
	b = b[1:]
	var err error
	if p.Kind == ProofLightning {
		var invoiceBytes []byte
		invoiceBytes, b, err = readLenPrefixed(b)
		if err != nil {
			return nil, err
		}
		p.Invoice = string(invoiceBytes)
		if len(b) < 32+8+8+8 {
			return nil, NewError(KindInvalidPacket, "truncated lightning proof")
		}
		copy(p.Preimage[:], b[0:32])
		p.AmountMsats = leUint64(b[32:40])
		p.Timestamp = leInt64(b[40:48])
		p.ExpiresAt = leInt64(b[48:56])
		return p, nil
	}

	if len(b) < 8 {
		return nil, NewError(KindInvalidPacket, "truncated template commitment output count")
	}
	n := leUint64(b[0:8])
	b = b[8:]
	p.Outputs = make([]TemplateOutput, 0, n)
	for i := uint64(0); i < n; i++ {
		if len(b) < 8 {
			return nil, NewError(KindInvalidPacket, "truncated template output value")
		}
		value := leUint64(b[0:8])
		b = b[8:]
		var script []byte
		script, b, err = readLenPrefixed(b)
		if err != nil {
			return nil, err
		}
		p.Outputs = append(p.Outputs, TemplateOutput{ValueSats: value, ScriptPubKey: script})
	}
	if len(b) < 32+16 {
		return nil, NewError(KindInvalidPacket, "truncated template commitment trailer")
	}
	copy(p.TemplateHash[:], b[0:32])
	p.AmountSats = leUint64(b[32:40])
	p.TsTemplate = leInt64(b[40:48])
	return p, nil
}

// NewMeshPacket is a convenience constructor stamping Version, Timestamp
// and the minimal bracketing Route ([source, destination], or just
// [source] when they're equal), grounded on the same "builder fills in the
// mechanical fields" pattern the teacher uses for its own envelope types.
func NewMeshPacket(t PacketType, source, destination NodeId, now time.Time) *MeshPacket {
	route := []NodeId{source, destination}
	if source == destination {
		route = []NodeId{source}
	}
	return &MeshPacket{
		Version:     meshPacketVersion,
		Type:        t,
		Source:      source,
		Destination: destination,
		Route:       route,
		Timestamp:   now.Unix(),
	}
}
