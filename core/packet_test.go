package core

import (
	"reflect"
	"testing"
)

func samplePacket() *MeshPacket {
	return &MeshPacket{
		Version:     meshPacketVersion,
		Type:        PacketData,
		Source:      idFromByte(1),
		Destination: idFromByte(2),
		Route:       []NodeId{idFromByte(1), idFromByte(3), idFromByte(4), idFromByte(2)},
		Sequence:    7,
		Timestamp:   1700000000,
		Proof: &PaymentProof{
			Kind:        ProofLightning,
			Invoice:     "lnbc1...",
			AmountMsats: 5000,
			Timestamp:   1,
			ExpiresAt:   2,
		},
		Payload:  []byte("hello mesh"),
		Metadata: map[string]string{"k": "v"},
	}
}

func TestMeshPacket_EncodeDecodeRoundTrip(t *testing.T) {
	p := samplePacket()
	encoded := EncodeMeshPacket(p)
	decoded, err := DecodeMeshPacket(encoded)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}

	if decoded.Version != p.Version || decoded.Type != p.Type || decoded.Sequence != p.Sequence ||
		decoded.Timestamp != p.Timestamp || decoded.Source != p.Source || decoded.Destination != p.Destination {
		t.Fatalf("scalar fields mismatch: %+v vs %+v", decoded, p)
	}
	if !reflect.DeepEqual(decoded.Route, p.Route) {
		t.Fatalf("route mismatch: %+v vs %+v", decoded.Route, p.Route)
	}
	if string(decoded.Payload) != string(p.Payload) {
		t.Fatalf("payload mismatch: %q vs %q", decoded.Payload, p.Payload)
	}
	if !reflect.DeepEqual(decoded.Metadata, p.Metadata) {
		t.Fatalf("metadata mismatch: %+v vs %+v", decoded.Metadata, p.Metadata)
	}
	if decoded.Proof == nil || decoded.Proof.Invoice != p.Proof.Invoice || decoded.Proof.AmountMsats != p.Proof.AmountMsats {
		t.Fatalf("proof mismatch: %+v", decoded.Proof)
	}
}

func TestMeshPacket_EncodeDecodeRoundTrip_NoProof(t *testing.T) {
	p := samplePacket()
	p.Proof = nil
	decoded, err := DecodeMeshPacket(EncodeMeshPacket(p))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.Proof != nil {
		t.Fatalf("expected nil proof, got %+v", decoded.Proof)
	}
}

func TestDecodeMeshPacket_RejectsBadMagic(t *testing.T) {
	if _, err := DecodeMeshPacket([]byte("not a mesh packet")); !IsKind(err, KindInvalidPacket) {
		t.Fatalf("expected invalid packet error, got %v", err)
	}
}

func TestDecodeMeshPacket_RejectsTruncated(t *testing.T) {
	encoded := EncodeMeshPacket(samplePacket())
	if _, err := DecodeMeshPacket(encoded[:len(encoded)-5]); err == nil {
		t.Fatal("expected an error decoding truncated packet")
	}
}

func TestMeshPacket_Validate(t *testing.T) {
	p := samplePacket()
	if err := p.Validate(1_000_000); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	bad := samplePacket()
	bad.Destination = ZeroNodeId
	if err := bad.Validate(1_000_000); !IsKind(err, KindInvalidPacket) {
		t.Fatalf("expected zero-destination rejection, got %v", err)
	}

	tooBig := samplePacket()
	tooBig.Payload = make([]byte, 10)
	if err := tooBig.Validate(5); !IsKind(err, KindInvalidPacket) {
		t.Fatalf("expected oversized payload rejection, got %v", err)
	}

	badStart := samplePacket()
	badStart.Route[0] = idFromByte(99)
	if err := badStart.Validate(1_000_000); !IsKind(err, KindInvalidPacket) {
		t.Fatalf("expected route-does-not-start-at-source rejection, got %v", err)
	}

	badEnd := samplePacket()
	badEnd.Route[len(badEnd.Route)-1] = idFromByte(99)
	if err := badEnd.Validate(1_000_000); !IsKind(err, KindInvalidPacket) {
		t.Fatalf("expected route-does-not-end-at-destination rejection, got %v", err)
	}

	empty := samplePacket()
	empty.Route = nil
	if err := empty.Validate(1_000_000); !IsKind(err, KindInvalidPacket) {
		t.Fatalf("expected empty-route rejection, got %v", err)
	}

	selfRoute := samplePacket()
	selfRoute.Source = idFromByte(7)
	selfRoute.Destination = idFromByte(7)
	selfRoute.Route = []NodeId{idFromByte(7)}
	if err := selfRoute.Validate(1_000_000); err != nil {
		t.Fatalf("a length-1 route with source == destination must validate: %v", err)
	}

	mismatchedSelfRoute := samplePacket()
	mismatchedSelfRoute.Route = []NodeId{idFromByte(1)}
	mismatchedSelfRoute.Destination = idFromByte(2)
	if err := mismatchedSelfRoute.Validate(1_000_000); !IsKind(err, KindInvalidPacket) {
		t.Fatalf("a length-1 route must require source == destination, got %v", err)
	}
}

func TestMeshPacket_Validate_SizeBoundary(t *testing.T) {
	p := samplePacket()
	p.Proof = nil
	p.Metadata = nil
	size := len(EncodeMeshPacket(p))

	if err := p.Validate(size); err != nil {
		t.Fatalf("a packet exactly at the size ceiling must validate: %v", err)
	}
	if err := p.Validate(size - 1); !IsKind(err, KindInvalidPacket) {
		t.Fatalf("expected a packet one byte over the ceiling to be rejected, got %v", err)
	}
}

func TestMeshPacket_ForwardingHelpers(t *testing.T) {
	self := idFromByte(9)
	p := samplePacket()
	p.Destination = self
	if !p.IsForMe(self) {
		t.Fatal("expected packet to be for self")
	}
	if p.ShouldForward(self, 10) {
		t.Fatal("a packet addressed to self should never be forwarded")
	}

	p2 := samplePacket()
	p2.Route = make([]NodeId, 10)
	if p2.ShouldForward(self, 10) {
		t.Fatal("expected hop budget to block forwarding")
	}

	p3 := samplePacket()
	originalLen := len(p3.Route)
	originalDest := p3.Route[originalLen-1]
	next := p3.AddToRoute(self)
	if len(next.Route) != originalLen+1 {
		t.Fatalf("AddToRoute did not grow the route by one: %+v", next.Route)
	}
	if next.Route[len(next.Route)-1] != originalDest {
		t.Fatalf("AddToRoute must keep destination last, got %+v", next.Route)
	}
	if next.Route[len(next.Route)-2] != self {
		t.Fatalf("AddToRoute must splice self immediately before destination, got %+v", next.Route)
	}
	if len(p3.Route) != originalLen {
		t.Fatal("AddToRoute must not mutate the original packet")
	}

	p4 := samplePacket()
	already := p4.AddToRoute(idFromByte(3))
	if len(already.Route) != len(p4.Route) {
		t.Fatalf("AddToRoute must be a no-op when self is already in the route: %+v", already.Route)
	}
}
