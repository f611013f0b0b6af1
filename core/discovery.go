package core

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// RequestID is a random correlation id for an in-flight route discovery.
type RequestID [16]byte

// RouteRequest is flooded outward from the origin toward a destination it
// has no known route to (spec §4.5).
type RouteRequest struct {
	RequestID   RequestID
	Origin      NodeId
	Destination NodeId
	Path        []NodeId
	MaxHops     int
	Timestamp   int64
}

// RouteResponse answers a RouteRequest. It is sent to the last node in the
// request's Path; the node that receives it records the route and does not
// relay the response any further back along the path.
type RouteResponse struct {
	RequestID   RequestID
	Destination NodeId
	Path        []NodeId
	FeeSats     uint64
}

// RouteAdvertisement is an unsolicited announcement of reachability,
// typically gossiped periodically by a node advertising itself or a route
// it has learned. Per the Open Question spec §9 leaves unresolved, this
// module treats RoutePath[0] as the advertised source.
type RouteAdvertisement struct {
	RoutePath  []NodeId
	FeeSats    uint64
	TTLSeconds int64
}

type pendingDiscovery struct {
	resultCh  chan RouteEntry
	createdAt int64
}

// SendDirective instructs a caller to hand payload to the host's transport
// for delivery to Peer. Discovery builds these but never sends them itself:
// transmission is the forwarder's responsibility (spec §4.5, §9 "discovery
// isolation" — discovery stays pure and testable without a network).
type SendDirective struct {
	Peer    NodeId
	Payload []byte
}

// Discovery implements route discovery: flooding RouteRequests, answering
// them when this node is the destination or already knows a route, and
// learning from both responses and advertisements (spec §4.5). It holds no
// reference to HostAPI or any other transport; every method that would need
// to transmit something returns the would-be sends as SendDirectives for the
// caller (the forwarder) to actually dispatch.
type Discovery struct {
	self    NodeId
	routing *RoutingTable
	clock   clock.Clock
	log     *logrus.Logger

	timeout time.Duration
	maxHops int

	mu      sync.Mutex
	pending map[NodeId]*pendingDiscovery

	sf      singleflight.Group
	limiter *rate.Limiter

	seenMu sync.Mutex
	seen   map[RequestID]int64
}

func NewDiscovery(self NodeId, routing *RoutingTable, clk clock.Clock, log *logrus.Logger, timeout time.Duration, maxHops int) *Discovery {
	return &Discovery{
		self:    self,
		routing: routing,
		clock:   clk,
		log:     log,
		timeout: timeout,
		maxHops: maxHops,
		pending: make(map[NodeId]*pendingDiscovery),
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		seen:    make(map[RequestID]int64),
	}
}

func newRequestID() RequestID {
	var id RequestID
	_, _ = rand.Read(id[:])
	return id
}

// BeginDiscovery registers a pending discovery for destination and returns
// the SendDirectives the caller must dispatch to flood a RouteRequest to
// every direct peer. If a discovery for destination is already pending when
// the call runs, it returns no directives — the caller should still call
// AwaitRoute, which waits on the same pending entry. Concurrent callers for
// the same destination are coalesced through singleflight so only one
// pending entry and one broadcast are built; every caller that joined that
// singleflight call receives the same directives. If the rate limiter
// refuses the broadcast, the pending entry is removed again and a
// KindRoutingError is returned.
func (d *Discovery) BeginDiscovery(destination NodeId) ([]SendDirective, error) {
	if entry, ok := d.routing.FindRoute(destination); ok {
		d.deliver(destination, entry)
		return nil, nil
	}

	v, err, _ := d.sf.Do(destination.String(), func() (any, error) {
		d.mu.Lock()
		if _, exists := d.pending[destination]; exists {
			d.mu.Unlock()
			return []SendDirective(nil), nil
		}
		ch := make(chan RouteEntry, 1)
		d.pending[destination] = &pendingDiscovery{resultCh: ch, createdAt: d.clock.Now().Unix()}
		d.mu.Unlock()

		req := RouteRequest{
			RequestID:   newRequestID(),
			Origin:      d.self,
			Destination: destination,
			Path:        []NodeId{d.self},
			MaxHops:     d.maxHops,
			Timestamp:   d.clock.Now().Unix(),
		}
		d.markSeen(req.RequestID)
		directives, err := d.broadcast(req)
		if err != nil {
			d.mu.Lock()
			delete(d.pending, destination)
			d.mu.Unlock()
			return nil, err
		}
		return directives, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]SendDirective), nil
}

// AwaitRoute blocks until a route to destination is learned (via
// HandleRouteResponse), the discovery timeout elapses, or ctx is cancelled.
// Call it after dispatching the directives BeginDiscovery returned.
func (d *Discovery) AwaitRoute(ctx context.Context, destination NodeId) (RouteEntry, error) {
	d.mu.Lock()
	pending, ok := d.pending[destination]
	d.mu.Unlock()
	if !ok {
		if entry, ok := d.routing.FindRoute(destination); ok {
			return entry, nil
		}
		return RouteEntry{}, NewError(KindRouteNotFound, "no discovery in flight for destination")
	}
	defer func() {
		d.mu.Lock()
		delete(d.pending, destination)
		d.mu.Unlock()
	}()

	timer := d.clock.Timer(d.timeout)
	defer timer.Stop()
	select {
	case entry := <-pending.resultCh:
		return entry, nil
	case <-timer.C:
		return RouteEntry{}, NewError(KindRouteNotFound, "discovery timed out")
	case <-ctx.Done():
		return RouteEntry{}, ctx.Err()
	}
}

// DiscoverRoute is a convenience wrapper combining BeginDiscovery and
// AwaitRoute for callers (tests, mainly) that don't need to interleave a
// transport send between the two steps. The forwarder uses the split form so
// it can perform the actual sends itself.
func (d *Discovery) DiscoverRoute(ctx context.Context, destination NodeId, send func(SendDirective) error) (RouteEntry, error) {
	directives, err := d.BeginDiscovery(destination)
	if err != nil {
		return RouteEntry{}, err
	}
	for _, dir := range directives {
		if err := send(dir); err != nil {
			d.log.WithError(err).WithField("peer", dir.Peer.String()).Warn("failed to flood route request to peer")
		}
	}
	return d.AwaitRoute(ctx, destination)
}

func (d *Discovery) broadcast(req RouteRequest) ([]SendDirective, error) {
	if !d.limiter.Allow() {
		return nil, NewError(KindRoutingError, "discovery broadcast rate limit exceeded")
	}
	payload, err := encodeRouteRequest(req)
	if err != nil {
		return nil, Wrapf(KindRoutingError, err, "encode route request")
	}
	framed := d.frame(PacketRouteRequest, req.Destination, payload)
	peers := d.routing.DirectPeers()
	directives := make([]SendDirective, 0, len(peers))
	for _, peer := range peers {
		directives = append(directives, SendDirective{Peer: peer, Payload: framed})
	}
	return directives, nil
}

// deliver wakes a local waiter for destination, if one is registered, used
// when BeginDiscovery finds the routing table already answered the question
// out from under a caller that hadn't checked yet.
func (d *Discovery) deliver(destination NodeId, entry RouteEntry) {
	d.mu.Lock()
	pending, ok := d.pending[destination]
	d.mu.Unlock()
	if ok {
		select {
		case pending.resultCh <- entry:
		default:
		}
	}
}

// frame wraps a discovery payload in the module's MeshPacket envelope so
// every message on the wire, control or data, shares one framing format
// (spec §6).
func (d *Discovery) frame(t PacketType, destination NodeId, payload []byte) []byte {
	pkt := NewMeshPacket(t, d.self, destination, d.clock.Now())
	pkt.Payload = payload
	return EncodeMeshPacket(pkt)
}

// HandleRouteRequest answers a request directly if this node is the
// destination or already knows a route, otherwise rebroadcasts it to its
// own direct peers (minus the hop it arrived from) while under MaxHops. The
// caller (the forwarder) is responsible for dispatching every returned
// SendDirective; Discovery never touches the transport itself.
func (d *Discovery) HandleRouteRequest(req RouteRequest, arrivedFrom NodeId) ([]SendDirective, error) {
	if d.alreadySeen(req.RequestID) {
		return nil, nil
	}
	d.markSeen(req.RequestID)

	if req.Destination == d.self {
		dir, err := d.respond(req, RouteEntry{NextHop: arrivedFrom, HopCount: len(req.Path), FeeSats: 0})
		if err != nil {
			return nil, err
		}
		return []SendDirective{dir}, nil
	}

	if entry, ok := d.routing.FindRoute(req.Destination); ok {
		dir, err := d.respond(req, RouteEntry{NextHop: arrivedFrom, HopCount: entry.HopCount + len(req.Path), FeeSats: entry.FeeSats})
		if err != nil {
			return nil, err
		}
		return []SendDirective{dir}, nil
	}

	if len(req.Path) >= req.MaxHops {
		return nil, nil
	}
	req.Path = append(append([]NodeId{}, req.Path...), d.self)
	directives, err := d.broadcast(req)
	if err != nil {
		return nil, err
	}
	out := directives[:0]
	for _, dir := range directives {
		if dir.Peer != arrivedFrom {
			out = append(out, dir)
		}
	}
	return out, nil
}

func (d *Discovery) respond(req RouteRequest, entry RouteEntry) (SendDirective, error) {
	resp := RouteResponse{
		RequestID:   req.RequestID,
		Destination: req.Destination,
		Path:        append(append([]NodeId{}, req.Path...), d.self),
		FeeSats:     entry.FeeSats,
	}
	payload, err := encodeRouteResponse(resp)
	if err != nil {
		return SendDirective{}, Wrapf(KindRoutingError, err, "encode route response")
	}
	if len(req.Path) == 0 {
		return SendDirective{}, NewError(KindRoutingError, "route request has empty path, cannot respond")
	}
	backTo := req.Path[len(req.Path)-1]
	return SendDirective{Peer: backTo, Payload: d.frame(PacketRouteResponse, resp.Destination, payload)}, nil
}

// HandleRouteResponse records the learned route and wakes any local waiter.
func (d *Discovery) HandleRouteResponse(resp RouteResponse, receivedFrom NodeId, ttl time.Duration) {
	entry := RouteEntry{
		NextHop:   receivedFrom,
		HopCount:  len(resp.Path),
		FeeSats:   resp.FeeSats,
		ExpiresAt: d.clock.Now().Add(ttl).Unix(),
	}
	d.routing.UpsertRoute(resp.Destination, entry)

	d.mu.Lock()
	pending, ok := d.pending[resp.Destination]
	d.mu.Unlock()
	if ok {
		select {
		case pending.resultCh <- entry:
		default:
		}
	}
}

// HandleRouteAdvertisement learns a route from an unsolicited announcement.
func (d *Discovery) HandleRouteAdvertisement(adv RouteAdvertisement, receivedFrom NodeId) {
	if len(adv.RoutePath) == 0 {
		return
	}
	source := adv.RoutePath[0]
	if source == d.self {
		return
	}
	entry := RouteEntry{
		NextHop:   receivedFrom,
		HopCount:  len(adv.RoutePath),
		FeeSats:   adv.FeeSats,
		ExpiresAt: d.clock.Now().Add(time.Duration(adv.TTLSeconds) * time.Second).Unix(),
	}
	d.routing.UpsertRoute(source, entry)
}

// CleanupExpired drops pending discoveries that timed out without being
// removed by their own waiter (e.g. the caller's context was cancelled).
func (d *Discovery) CleanupExpired() int {
	now := d.clock.Now().Unix()
	removed := 0
	d.mu.Lock()
	for dest, p := range d.pending {
		if now-p.createdAt > int64(d.timeout/time.Second) {
			delete(d.pending, dest)
			removed++
		}
	}
	d.mu.Unlock()

	d.seenMu.Lock()
	for id, ts := range d.seen {
		if now-ts > int64(d.timeout/time.Second)*4 {
			delete(d.seen, id)
		}
	}
	d.seenMu.Unlock()
	return removed
}

func (d *Discovery) alreadySeen(id RequestID) bool {
	d.seenMu.Lock()
	defer d.seenMu.Unlock()
	_, ok := d.seen[id]
	return ok
}

func (d *Discovery) markSeen(id RequestID) {
	d.seenMu.Lock()
	d.seen[id] = d.clock.Now().Unix()
	d.seenMu.Unlock()
}

// Wire encodings for discovery messages, using the same canonical
// little-endian/length-prefixed convention as PaymentProof.canonicalBytes
// and the MeshPacket framing in packet.go.

func encodeRouteRequest(req RouteRequest) ([]byte, error) {
	buf := append([]byte{}, req.RequestID[:]...)
	buf = append(buf, req.Origin[:]...)
	buf = append(buf, req.Destination[:]...)
	buf = appendNodeIDs(buf, req.Path)
	buf = leAppendUint32(buf, uint32(req.MaxHops))
	buf = leAppendInt64(buf, req.Timestamp)
	return buf, nil
}

func decodeRouteRequest(b []byte) (RouteRequest, error) {
	var req RouteRequest
	if len(b) < 16+32+32+8 {
		return req, NewError(KindInvalidPacket, "route request too short")
	}
	copy(req.RequestID[:], b[0:16])
	copy(req.Origin[:], b[16:48])
	copy(req.Destination[:], b[48:80])
	rest := b[80:]
	path, rest, err := readNodeIDs(rest)
	if err != nil {
		return req, err
	}
	req.Path = path
	if len(rest) < 12 {
		return req, NewError(KindInvalidPacket, "route request missing trailer")
	}
	req.MaxHops = int(leUint32(rest[0:4]))
	req.Timestamp = leInt64(rest[4:12])
	return req, nil
}

func encodeRouteResponse(resp RouteResponse) ([]byte, error) {
	buf := append([]byte{}, resp.RequestID[:]...)
	buf = append(buf, resp.Destination[:]...)
	buf = appendNodeIDs(buf, resp.Path)
	buf = leAppendUint64(buf, resp.FeeSats)
	return buf, nil
}

func decodeRouteResponse(b []byte) (RouteResponse, error) {
	var resp RouteResponse
	if len(b) < 16+32+8 {
		return resp, NewError(KindInvalidPacket, "route response too short")
	}
	copy(resp.RequestID[:], b[0:16])
	copy(resp.Destination[:], b[16:48])
	rest := b[48:]
	path, rest, err := readNodeIDs(rest)
	if err != nil {
		return resp, err
	}
	resp.Path = path
	if len(rest) < 8 {
		return resp, NewError(KindInvalidPacket, "route response missing fee")
	}
	resp.FeeSats = leUint64(rest[0:8])
	return resp, nil
}

func encodeRouteAdvertisement(adv RouteAdvertisement) ([]byte, error) {
	buf := appendNodeIDs(nil, adv.RoutePath)
	buf = leAppendUint64(buf, adv.FeeSats)
	buf = leAppendInt64(buf, adv.TTLSeconds)
	return buf, nil
}

func decodeRouteAdvertisement(b []byte) (RouteAdvertisement, error) {
	var adv RouteAdvertisement
	path, rest, err := readNodeIDs(b)
	if err != nil {
		return adv, err
	}
	adv.RoutePath = path
	if len(rest) < 16 {
		return adv, NewError(KindInvalidPacket, "route advertisement missing trailer")
	}
	adv.FeeSats = leUint64(rest[0:8])
	adv.TTLSeconds = leInt64(rest[8:16])
	return adv, nil
}
