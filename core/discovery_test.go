package core

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func newTestDiscovery(self NodeId, clk clock.Clock) (*Discovery, *RoutingTable) {
	rt := NewRoutingTable(clk, 16)
	d := NewDiscovery(self, rt, clk, testLoggerQuiet(), 5*time.Second, 8)
	return d, rt
}

// noopSend discards every directive, for tests exercising discovery logic
// without caring what would have gone out on the wire.
func noopSend(SendDirective) error { return nil }

func TestDiscovery_DiscoverRoute_ReturnsKnownRouteImmediately(t *testing.T) {
	clk := clock.NewMock()
	self := idFromByte(1)
	dest := idFromByte(2)
	d, rt := newTestDiscovery(self, clk)
	rt.UpsertRoute(dest, RouteEntry{NextHop: dest, HopCount: 1, ExpiresAt: clk.Now().Add(time.Hour).Unix()})

	entry, err := d.DiscoverRoute(context.Background(), dest, noopSend)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.NextHop != dest {
		t.Fatalf("expected known route, got %+v", entry)
	}
}

func TestDiscovery_BeginDiscovery_ReturnsDirectivesToEveryDirectPeer(t *testing.T) {
	clk := clock.NewMock()
	self := idFromByte(1)
	dest := idFromByte(2)
	peerA, peerB := idFromByte(3), idFromByte(4)
	d, rt := newTestDiscovery(self, clk)
	rt.AddDirectPeer(peerA, time.Hour)
	rt.AddDirectPeer(peerB, time.Hour)

	directives, err := d.BeginDiscovery(dest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(directives) != 2 {
		t.Fatalf("expected one directive per direct peer, got %d", len(directives))
	}
	seen := map[NodeId]bool{}
	for _, dir := range directives {
		seen[dir.Peer] = true
		pkt, err := DecodeMeshPacket(dir.Payload)
		if err != nil {
			t.Fatalf("directive payload was not a valid mesh packet: %v", err)
		}
		if pkt.Type != PacketRouteRequest {
			t.Fatalf("expected a route request packet, got type %v", pkt.Type)
		}
	}
	if !seen[peerA] || !seen[peerB] {
		t.Fatalf("expected directives addressed to both direct peers, got %+v", directives)
	}
}

func TestDiscovery_BeginDiscovery_NeverTouchesHost(t *testing.T) {
	// Discovery has no HostAPI dependency at all: this test compiling and
	// running without ever constructing a fakeHost is itself the assertion
	// that discovery is pure and testable without a network.
	clk := clock.NewMock()
	d, rt := newTestDiscovery(idFromByte(1), clk)
	rt.AddDirectPeer(idFromByte(2), time.Hour)
	if _, err := d.BeginDiscovery(idFromByte(3)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDiscovery_DiscoverRoute_TimesOutWithNoResponse(t *testing.T) {
	clk := clock.NewMock()
	self := idFromByte(1)
	dest := idFromByte(2)
	d, _ := newTestDiscovery(self, clk)

	errCh := make(chan error, 1)
	go func() {
		_, err := d.DiscoverRoute(context.Background(), dest, noopSend)
		errCh <- err
	}()

	// Give the goroutine a chance to register its pending wait before we
	// advance the mock clock past the timeout.
	time.Sleep(10 * time.Millisecond)
	clk.Add(6 * time.Second)

	select {
	case err := <-errCh:
		if !IsKind(err, KindRouteNotFound) {
			t.Fatalf("expected route-not-found on timeout, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("discovery did not time out")
	}
}

func TestDiscovery_HandleRouteRequest_RespondsWhenSelfIsDestination(t *testing.T) {
	clk := clock.NewMock()
	self := idFromByte(3)
	origin := idFromByte(4)
	d, _ := newTestDiscovery(self, clk)

	req := RouteRequest{RequestID: newRequestID(), Origin: origin, Destination: self, Path: []NodeId{origin}, MaxHops: 5}
	directives, err := d.HandleRouteRequest(req, origin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(directives) != 1 {
		t.Fatalf("expected exactly one response directive, got %d", len(directives))
	}
	pkt, err := DecodeMeshPacket(directives[0].Payload)
	if err != nil {
		t.Fatalf("response was not a valid mesh packet: %v", err)
	}
	if pkt.Type != PacketRouteResponse {
		t.Fatalf("expected a route response packet, got type %v", pkt.Type)
	}
	resp, err := decodeRouteResponse(pkt.Payload)
	if err != nil {
		t.Fatalf("unexpected error decoding response: %v", err)
	}
	if resp.Destination != self {
		t.Fatalf("expected response destined for self, got %s", resp.Destination)
	}
}

func TestDiscovery_HandleRouteRequest_DedupesByRequestID(t *testing.T) {
	clk := clock.NewMock()
	self := idFromByte(5)
	origin := idFromByte(6)
	d, _ := newTestDiscovery(self, clk)

	req := RouteRequest{RequestID: newRequestID(), Origin: origin, Destination: self, Path: []NodeId{origin}, MaxHops: 5}
	first, err := d.HandleRouteRequest(req, origin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := d.HandleRouteRequest(req, origin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != 1 || len(second) != 0 {
		t.Fatalf("expected the duplicate request to produce no directives, got first=%d second=%d", len(first), len(second))
	}
}

func TestDiscovery_HandleRouteAdvertisement_LearnsRoute(t *testing.T) {
	clk := clock.NewMock()
	self := idFromByte(7)
	source := idFromByte(8)
	relay := idFromByte(9)
	d, rt := newTestDiscovery(self, clk)

	adv := RouteAdvertisement{RoutePath: []NodeId{source, relay}, FeeSats: 3, TTLSeconds: 60}
	d.HandleRouteAdvertisement(adv, relay)

	entry, ok := rt.FindRoute(source)
	if !ok {
		t.Fatal("expected advertisement to install a route to its source")
	}
	if entry.NextHop != relay || entry.FeeSats != 3 {
		t.Fatalf("unexpected route entry: %+v", entry)
	}
}

func TestDiscovery_HandleRouteAdvertisement_IgnoresSelfSource(t *testing.T) {
	clk := clock.NewMock()
	self := idFromByte(10)
	d, rt := newTestDiscovery(self, clk)

	d.HandleRouteAdvertisement(RouteAdvertisement{RoutePath: []NodeId{self}, TTLSeconds: 60}, idFromByte(11))
	if _, ok := rt.FindRoute(self); ok {
		t.Fatal("a node should never learn a route to itself from its own advertisement")
	}
}
