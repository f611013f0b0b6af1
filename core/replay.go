package core

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cespare/xxhash/v2"
)

const replayShardCount = 32

// ReplayEntry records when and by whom a proof hash was consumed (spec §3).
type ReplayEntry struct {
	Timestamp int64
	PeerID    NodeId
	Sequence  uint64
}

type replayHashShard struct {
	mu   sync.Mutex
	data map[[32]byte]ReplayEntry
}

type replayPeerShard struct {
	mu   sync.Mutex
	data map[NodeId]uint64
}

// ReplayGuard enforces at-most-once proof use and strict per-peer sequence
// monotonicity (spec §4.2). Both maps are sharded on an xxhash of the key so
// concurrent callers touching different shards never contend — the teacher's
// own domain (spec §5) calls for "sharded lock-free maps"; Go's idiomatic
// approximation of that is N mutex-guarded shards, which is what the DashMap
// in original_source/src/routing.rs buys the Rust implementation for free.
type ReplayGuard struct {
	hashShards [replayShardCount]*replayHashShard
	peerShards [replayShardCount]*replayPeerShard

	ttl        time.Duration
	clock      clock.Clock
	sweepCur   atomic.Uint64
}

func NewReplayGuard(ttl time.Duration, clk clock.Clock) *ReplayGuard {
	g := &ReplayGuard{ttl: ttl, clock: clk}
	for i := range g.hashShards {
		g.hashShards[i] = &replayHashShard{data: make(map[[32]byte]ReplayEntry)}
	}
	for i := range g.peerShards {
		g.peerShards[i] = &replayPeerShard{data: make(map[NodeId]uint64)}
	}
	return g
}

func (g *ReplayGuard) hashShardFor(h [32]byte) *replayHashShard {
	return g.hashShards[xxhash.Sum64(h[:])%replayShardCount]
}

func (g *ReplayGuard) peerShardFor(id NodeId) *replayPeerShard {
	return g.peerShards[xxhash.Sum64(id[:])%replayShardCount]
}

// CheckReplay implements spec §4.2's five-step algorithm. The hash-shard
// lock and peer-shard lock are always acquired in that order across every
// call, so concurrent callers never deadlock regardless of which shards
// their keys land in, and the check-then-insert on each map is atomic with
// respect to other callers touching the same shard — satisfying the
// "insert-if-absent" requirement without an unsynchronized read-then-write.
func (g *ReplayGuard) CheckReplay(proof *PaymentProof, peerID NodeId, sequence uint64) error {
	g.opportunisticSweep()

	h := proof.Hash()
	hs := g.hashShardFor(h)
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if _, used := hs.data[h]; used {
		return NewError(KindReplayDetected, "proof already used")
	}

	ps := g.peerShardFor(peerID)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if last, ok := ps.data[peerID]; ok && sequence <= last {
		return Wrapf(KindReplayDetected, nil, "sequence out of order; got %d, expected > %d", sequence, last)
	}

	now := g.clock.Now().Unix()
	if proof.IsExpired(now) {
		return NewError(KindPaymentVerification, "expired")
	}

	hs.data[h] = ReplayEntry{Timestamp: now, PeerID: peerID, Sequence: sequence}
	ps.data[peerID] = sequence
	return nil
}

// CleanupExpired removes every hash entry older than the replay TTL. It
// never touches the per-peer sequence map — sequence counters must not
// regress even across arbitrarily long gaps (spec §4.2).
func (g *ReplayGuard) CleanupExpired() int {
	now := g.clock.Now().Unix()
	removed := 0
	for _, shard := range g.hashShards {
		shard.mu.Lock()
		for h, entry := range shard.data {
			if now > entry.Timestamp+int64(g.ttl/time.Second) {
				delete(shard.data, h)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// opportunisticSweep expires stale entries in a single shard per call,
// round-robining across shards. This is the "best-effort expiry sweep" step
// 1 of check_replay calls for, without paying the cost of a full scan on
// every check (the background sweeper in sweeper.go still does a full
// CleanupExpired every sweep interval).
func (g *ReplayGuard) opportunisticSweep() {
	idx := g.sweepCur.Add(1) % replayShardCount
	shard := g.hashShards[idx]
	now := g.clock.Now().Unix()
	shard.mu.Lock()
	for h, entry := range shard.data {
		if now > entry.Timestamp+int64(g.ttl/time.Second) {
			delete(shard.data, h)
		}
	}
	shard.mu.Unlock()
}
