package core

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cespare/xxhash/v2"
)

const routingShardCount = 32

// RouteEntry is one hop of known reachability toward a destination (spec §3).
type RouteEntry struct {
	NextHop   NodeId
	HopCount  int
	FeeSats   uint64
	ExpiresAt int64
}

type routeShard struct {
	mu     sync.RWMutex
	routes map[NodeId]RouteEntry
}

type peerShard struct {
	mu    sync.RWMutex
	peers map[NodeId]struct{}
}

// RoutingTable tracks directly-connected peers and learned multi-hop routes.
// Both maps are sharded by xxhash of the destination/peer id, the same
// approach ReplayGuard uses, so lookups on independent destinations never
// contend (spec §5's "sharded lock-free maps").
type RoutingTable struct {
	routeShards [routingShardCount]*routeShard
	peerShards  [routingShardCount]*peerShard

	cache *lru.Cache[NodeId, RouteEntry]
	clock clock.Clock
}

func NewRoutingTable(clk clock.Clock, cacheSize int) *RoutingTable {
	rt := &RoutingTable{clock: clk}
	for i := range rt.routeShards {
		rt.routeShards[i] = &routeShard{routes: make(map[NodeId]RouteEntry)}
	}
	for i := range rt.peerShards {
		rt.peerShards[i] = &peerShard{peers: make(map[NodeId]struct{})}
	}
	if cacheSize > 0 {
		c, _ := lru.New[NodeId, RouteEntry](cacheSize)
		rt.cache = c
	}
	return rt
}

func (rt *RoutingTable) routeShardFor(id NodeId) *routeShard {
	return rt.routeShards[xxhash.Sum64(id[:])%routingShardCount]
}

func (rt *RoutingTable) peerShardFor(id NodeId) *peerShard {
	return rt.peerShards[xxhash.Sum64(id[:])%routingShardCount]
}

// AddDirectPeer records a 1-hop, zero-fee route alongside the peer set
// (spec §4.4: a direct peer is always also a 1-hop route). The route entry
// itself still carries a TTL for cache bookkeeping, but pinning (see
// FindRoute and CleanupExpired) keeps it alive for as long as the peer
// remains connected regardless of that TTL (spec §9/GLOSSARY "Pinning").
func (rt *RoutingTable) AddDirectPeer(peer NodeId, ttl time.Duration) {
	ps := rt.peerShardFor(peer)
	ps.mu.Lock()
	ps.peers[peer] = struct{}{}
	ps.mu.Unlock()

	entry := RouteEntry{NextHop: peer, HopCount: 1, FeeSats: 0, ExpiresAt: rt.clock.Now().Add(ttl).Unix()}
	rs := rt.routeShardFor(peer)
	rs.mu.Lock()
	rs.routes[peer] = entry
	rs.mu.Unlock()
	if rt.cache != nil {
		rt.cache.Add(peer, entry)
	}
}

// RemoveDirectPeer drops the peer from the peer set and, if the route table
// still holds the direct-only 1-hop entry AddDirectPeer installed for it
// (HopCount == 1, NextHop == peer), removes that too, so find_route stops
// resolving to a peer that just disconnected (spec §4.4 "removes from
// routes iff the entry was direct-only"; the round-trip add/remove/find_route
// property in spec §8). A learned multi-hop route that merely happens to
// route through this peer as an intermediate hop is left alone and expires
// naturally — it is a distinct RouteEntry keyed by its own destination, not
// this one.
//
// The peer-shard lock is released before the route-shard lock is taken, the
// same ordering CleanupExpired and FindRoute's pinned path use, so no
// route-shard lock is ever held inside a peer-shard lock.
func (rt *RoutingTable) RemoveDirectPeer(peer NodeId) {
	ps := rt.peerShardFor(peer)
	ps.mu.Lock()
	delete(ps.peers, peer)
	ps.mu.Unlock()

	rs := rt.routeShardFor(peer)
	rs.mu.Lock()
	if entry, ok := rs.routes[peer]; ok && entry.HopCount == 1 && entry.NextHop == peer {
		delete(rs.routes, peer)
	}
	rs.mu.Unlock()
	if rt.cache != nil {
		if entry, ok := rt.cache.Peek(peer); ok && entry.HopCount == 1 && entry.NextHop == peer {
			rt.cache.Remove(peer)
		}
	}
}

// DirectPeers returns a snapshot of every currently connected direct peer.
func (rt *RoutingTable) DirectPeers() []NodeId {
	var peers []NodeId
	for _, shard := range rt.peerShards {
		shard.mu.RLock()
		for id := range shard.peers {
			peers = append(peers, id)
		}
		shard.mu.RUnlock()
	}
	return peers
}

func (rt *RoutingTable) IsDirectPeer(peer NodeId) bool {
	ps := rt.peerShardFor(peer)
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	_, ok := ps.peers[peer]
	return ok
}

// UpsertRoute records or replaces a learned route toward destination,
// keeping the shorter of the existing and new hop counts on a tie-break by
// lower fee (spec §4.4's "prefer fewer hops, then lower cumulative fee").
func (rt *RoutingTable) UpsertRoute(destination NodeId, entry RouteEntry) {
	rs := rt.routeShardFor(destination)
	rs.mu.Lock()
	if existing, ok := rs.routes[destination]; ok {
		if existing.HopCount < entry.HopCount ||
			(existing.HopCount == entry.HopCount && existing.FeeSats <= entry.FeeSats) {
			rs.mu.Unlock()
			return
		}
	}
	rs.routes[destination] = entry
	rs.mu.Unlock()
	if rt.cache != nil {
		rt.cache.Add(destination, entry)
	}
}

// FindRoute returns the live route to destination, if any. A destination
// that is still a connected direct peer is pinned: it is returned
// regardless of its route entry's TTL (spec GLOSSARY "Pinning"). Otherwise
// the advisory LRU is consulted first; a cache hit still must pass the
// expiry check, since the cache is capacity-bounded and may hold stale
// entries longer than the shard map would (spec §4.4 calls the cache
// "advisory, never authoritative").
func (rt *RoutingTable) FindRoute(destination NodeId) (RouteEntry, bool) {
	if rt.IsDirectPeer(destination) {
		rs := rt.routeShardFor(destination)
		rs.mu.RLock()
		entry, ok := rs.routes[destination]
		rs.mu.RUnlock()
		if ok {
			return entry, true
		}
	}

	now := rt.clock.Now().Unix()

	if rt.cache != nil {
		if entry, ok := rt.cache.Get(destination); ok && now <= entry.ExpiresAt {
			return entry, true
		}
	}

	rs := rt.routeShardFor(destination)
	rs.mu.RLock()
	entry, ok := rs.routes[destination]
	rs.mu.RUnlock()
	if !ok || now > entry.ExpiresAt {
		return RouteEntry{}, false
	}
	return entry, true
}

// CleanupExpired removes every route past its TTL, returning the count
// removed. A route whose destination is still a connected direct peer is
// pinned and survives the sweep even if its TTL has lapsed. The direct-peer
// set is snapshotted up front rather than checked shard-by-shard while a
// route shard lock is held, to avoid nesting a peer-shard lock inside a
// route-shard lock (FindRoute's pinned path takes them in the opposite
// order, so nesting here would risk an AB-BA deadlock).
func (rt *RoutingTable) CleanupExpired() int {
	pinned := make(map[NodeId]struct{})
	for _, id := range rt.DirectPeers() {
		pinned[id] = struct{}{}
	}

	now := rt.clock.Now().Unix()
	removed := 0
	for _, shard := range rt.routeShards {
		shard.mu.Lock()
		for dest, entry := range shard.routes {
			if _, isPinned := pinned[dest]; now > entry.ExpiresAt && !isPinned {
				delete(shard.routes, dest)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// FeeSplit is the per-role breakdown SplitFee computes (spec §4.4): the
// destination gets the largest share, the originating source a smaller cut,
// and any intermediate relays split what's left evenly. Truncating division
// at every step means the three parts may sum to less than the input fee;
// the remainder is deliberately left unassigned rather than reconciled.
type FeeSplit struct {
	Destination  uint64
	Source       uint64
	Intermediate []uint64
}

// SplitFee implements spec §4.4's fixed 60/10/30 distribution for a route
// of hopCount hops and a base fee of totalSats: destination 60%, source
// 10%, and the remaining 30% split evenly across the H-2 intermediate
// hops (zero of them when hopCount < 3).
func SplitFee(totalSats uint64, hopCount int) FeeSplit {
	split := FeeSplit{
		Destination: totalSats * 60 / 100,
		Source:      totalSats * 10 / 100,
	}
	intermediates := hopCount - 2
	if intermediates <= 0 {
		return split
	}
	share := (totalSats * 30 / 100) / uint64(intermediates)
	split.Intermediate = make([]uint64, intermediates)
	for i := range split.Intermediate {
		split.Intermediate[i] = share
	}
	return split
}

// Stats reports table occupancy for the admin/metrics surface (spec
// supplemented from original_source/src/routing.rs's get_stats).
type Stats struct {
	RouteCount int
	PeerCount  int
}

func (rt *RoutingTable) Stats() Stats {
	var s Stats
	for _, shard := range rt.routeShards {
		shard.mu.RLock()
		s.RouteCount += len(shard.routes)
		shard.mu.RUnlock()
	}
	for _, shard := range rt.peerShards {
		shard.mu.RLock()
		s.PeerCount += len(shard.peers)
		shard.mu.RUnlock()
	}
	return s
}
