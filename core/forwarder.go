package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Forwarder is the orchestrator wiring the classifier, replay guard,
// verifier, routing table and discovery into the single entry point the
// host calls on every inbound mesh message (spec §4.6).
type Forwarder struct {
	self NodeId
	host HostAPI
	cfg  Config

	policy    *PolicyEngine
	replay    *ReplayGuard
	verifier  *Verifier
	routing   *RoutingTable
	discovery *Discovery

	log     *logrus.Logger
	metrics *Metrics
}

func NewForwarder(self NodeId, host HostAPI, cfg Config, policy *PolicyEngine, replay *ReplayGuard, verifier *Verifier, routing *RoutingTable, discovery *Discovery, log *logrus.Logger, metrics *Metrics) *Forwarder {
	return &Forwarder{
		self: self, host: host, cfg: cfg,
		policy: policy, replay: replay, verifier: verifier,
		routing: routing, discovery: discovery,
		log: log, metrics: metrics,
	}
}

// HandleIncomingPacket is the single entry point called for every mesh
// message the host receives on the wire. arrivedFrom is the direct peer
// that handed us the bytes, used for discovery's reverse-path bookkeeping.
func (f *Forwarder) HandleIncomingPacket(ctx context.Context, raw []byte, arrivedFrom NodeId) error {
	if !f.cfg.Enabled {
		return NewError(KindMeshDisabled, "mesh is disabled")
	}

	traceID := uuid.NewString()
	log := f.log.WithFields(logrus.Fields{"trace_id": traceID, "from": arrivedFrom.String()})

	pkt, err := DecodeMeshPacket(raw)
	if err != nil {
		f.metrics.incInvalidPacket()
		log.WithError(err).Warn("dropping undecodable mesh packet")
		return err
	}
	if err := pkt.Validate(f.cfg.MaxPacketBytes); err != nil {
		f.metrics.incInvalidPacket()
		log.WithError(err).Warn("dropping invalid mesh packet")
		return err
	}

	switch pkt.Type {
	case PacketRouteRequest:
		req, err := decodeRouteRequest(pkt.Payload)
		if err != nil {
			return err
		}
		directives, err := f.discovery.HandleRouteRequest(req, arrivedFrom)
		if err != nil {
			return err
		}
		f.sendDirectives(ctx, directives)
		return nil
	case PacketRouteResponse:
		resp, err := decodeRouteResponse(pkt.Payload)
		if err != nil {
			return err
		}
		f.discovery.HandleRouteResponse(resp, arrivedFrom, f.cfg.RouteTTL)
		return nil
	case PacketRouteAdvertisement:
		adv, err := decodeRouteAdvertisement(pkt.Payload)
		if err != nil {
			return err
		}
		f.discovery.HandleRouteAdvertisement(adv, arrivedFrom)
		return nil
	default:
		return f.RoutePacket(ctx, pkt, log)
	}
}

// RoutePacket classifies the packet, enforces payment policy, and either
// delivers it locally or forwards it toward its destination (spec §4.6).
func (f *Forwarder) RoutePacket(ctx context.Context, pkt *MeshPacket, log *logrus.Entry) error {
	if !f.cfg.Enabled {
		return NewError(KindMeshDisabled, "mesh is disabled")
	}

	if log == nil {
		log = f.log.WithField("trace_id", uuid.NewString())
	}

	proto, policy := f.policy.Classify(pkt.Payload)
	log = log.WithFields(logrus.Fields{"protocol": proto.String(), "mode": f.policy.Mode().String()})

	if policy == PolicyPaymentRequired {
		if pkt.Proof == nil {
			f.metrics.incPolicyRejected()
			return NewError(KindPaymentVerification, "payment required but no proof attached")
		}
		if err := f.replay.CheckReplay(pkt.Proof, pkt.Source, pkt.Sequence); err != nil {
			f.metrics.incReplayRejected()
			log.WithError(err).Warn("rejecting packet on replay check")
			return err
		}
		result, err := f.verifier.VerifyProof(ctx, f.host, pkt.Proof)
		if err != nil {
			return err
		}
		if !result.Verified {
			f.metrics.incPolicyRejected()
			return NewError(KindPaymentVerification, result.Error)
		}
	}

	if pkt.IsForMe(f.self) {
		f.metrics.incDelivered()
		return nil
	}

	return f.ForwardPacket(ctx, pkt, log)
}

// ForwardPacket relays a packet to the next hop, discovering a route first
// if none is known.
func (f *Forwarder) ForwardPacket(ctx context.Context, pkt *MeshPacket, log *logrus.Entry) error {
	if !pkt.ShouldForward(f.self, f.cfg.DiscoveryMaxHops) {
		f.metrics.incHopLimitExceeded()
		return NewError(KindRoutingError, "hop limit exceeded")
	}

	var nextHop NodeId
	if hop, ok := pkt.GetNextHop(); ok && f.routing.IsDirectPeer(hop) {
		nextHop = hop
	} else if entry, ok := f.routing.FindRoute(pkt.Destination); ok {
		nextHop = entry.NextHop
	} else {
		entry, err := f.discoverRoute(ctx, pkt.Destination)
		if err != nil {
			f.metrics.incRouteNotFound()
			return err
		}
		nextHop = entry.NextHop
	}

	forwarded := pkt.AddToRoute(f.self)
	payload := EncodeMeshPacket(forwarded)
	if err := f.host.SendMeshPacketToPeer(ctx, nextHop[:], payload); err != nil {
		return Wrapf(KindRoutingError, err, "send to next hop %s", nextHop.String())
	}
	f.metrics.incForwarded()
	log.WithField("next_hop", nextHop.String()).Debug("forwarded mesh packet")
	return nil
}

// HandleEvent reacts to host lifecycle notifications (spec §6 supplement:
// original main.rs's event loop over PeerConnected/PeerDisconnected feeds
// the routing table's direct peer set).
func (f *Forwarder) HandleEvent(ev Event) {
	switch ev.Type {
	case EventPeerConnected:
		if id, ok := nodeIDFromBytes(ev.Address); ok {
			f.routing.AddDirectPeer(id, f.cfg.RouteTTL)
			f.metrics.setPeerCount(f.routing.Stats().PeerCount)
		}
	case EventPeerDisconnected:
		if id, ok := nodeIDFromBytes(ev.Address); ok {
			f.routing.RemoveDirectPeer(id)
			f.metrics.setPeerCount(f.routing.Stats().PeerCount)
		}
	}
}

// discoverRoute drives discovery's directive/await protocol on its behalf:
// Discovery never touches the transport (spec §4.5, §9 "discovery
// isolation"), so the forwarder is the one place that dispatches the
// SendDirectives a broadcast produces before waiting for a response.
func (f *Forwarder) discoverRoute(ctx context.Context, destination NodeId) (RouteEntry, error) {
	directives, err := f.discovery.BeginDiscovery(destination)
	if err != nil {
		return RouteEntry{}, err
	}
	f.sendDirectives(ctx, directives)
	return f.discovery.AwaitRoute(ctx, destination)
}

// sendDirectives dispatches every discovery SendDirective over the host
// transport, logging and continuing past individual send failures the same
// way Advertise does for route advertisements.
func (f *Forwarder) sendDirectives(ctx context.Context, directives []SendDirective) {
	for _, d := range directives {
		if err := f.host.SendMeshPacketToPeer(ctx, d.Peer[:], d.Payload); err != nil {
			f.log.WithError(err).WithField("peer", d.Peer.String()).Warn("failed to deliver discovery message")
		}
	}
}

func nodeIDFromBytes(b []byte) (NodeId, bool) {
	if len(b) != 32 {
		return ZeroNodeId, false
	}
	var id NodeId
	copy(id[:], b)
	return id, true
}

// Advertise announces this node's own reachability to its direct peers once
// per call, the counterpart of HandleRouteAdvertisement. Nothing in the
// module calls it on a schedule.
func (f *Forwarder) Advertise(ctx context.Context, ttl time.Duration) error {
	adv := RouteAdvertisement{RoutePath: []NodeId{f.self}, FeeSats: 0, TTLSeconds: int64(ttl / time.Second)}
	payload, err := encodeRouteAdvertisement(adv)
	if err != nil {
		return err
	}
	pkt := NewMeshPacket(PacketRouteAdvertisement, f.self, f.self, time.Unix(f.discoveryClockNow(), 0))
	pkt.Payload = payload
	framed := EncodeMeshPacket(pkt)
	for _, peer := range f.routing.DirectPeers() {
		if err := f.host.SendMeshPacketToPeer(ctx, peer[:], framed); err != nil {
			f.log.WithError(err).WithField("peer", peer.String()).Warn("failed to send route advertisement")
		}
	}
	return nil
}

func (f *Forwarder) discoveryClockNow() int64 {
	return f.discovery.clock.Now().Unix()
}
