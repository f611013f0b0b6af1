package core

import (
	"context"
	"crypto/sha256"
	"encoding/binary"

	"github.com/sirupsen/logrus"
)

// NodeId is a 32-byte node identifier, the SHA-256 of a node's long-term
// public key. Equality and map-key hashing are byte-wise, same as the
// original Rust `type NodeId = [u8; 32]` (original_source/src/routing.rs).
type NodeId [32]byte

// ZeroNodeId is the sentinel "no destination" value rejected by
// MeshPacket.Validate.
var ZeroNodeId NodeId

func (n NodeId) IsZero() bool { return n == ZeroNodeId }

const (
	meshConfigTree  = "mesh_config"
	nodeIDStoreKey  = "node_id"
	identitySeedTag = "bllvm_mesh_node_id_v1"
)

// LoadOrCreateIdentity implements the node-identity derivation boundary from
// spec §6: reuse a persisted id if one is found, otherwise seed from host
// statistics and persist the result so future restarts are stable. Storage
// failures are fatal here — per the spec's design notes, a caller relying on
// stable identity must treat them that way, so we surface the error rather
// than silently falling back on every run.
func LoadOrCreateIdentity(ctx context.Context, host HostAPI, log *logrus.Logger) (NodeId, error) {
	treeID, err := host.StorageOpenTree(ctx, meshConfigTree)
	if err != nil {
		return ZeroNodeId, Wrapf(KindConfigError, err, "open %s tree", meshConfigTree)
	}

	if existing, err := host.StorageGet(ctx, treeID, []byte(nodeIDStoreKey)); err == nil && len(existing) == 32 {
		var id NodeId
		copy(id[:], existing)
		log.WithField("node_id", id.String()).Debug("loaded persisted node identity")
		return id, nil
	}

	id, seedErr := seedIdentity(ctx, host)
	if seedErr != nil {
		// Fallback per spec §6: derive from chain tip + block height alone
		// when the richer host queries fail.
		tip, tipErr := host.GetChainTip(ctx)
		height, heightErr := host.GetBlockHeight(ctx)
		if tipErr != nil || heightErr != nil {
			return ZeroNodeId, Wrapf(KindConfigError, seedErr, "seed identity and fallback both failed")
		}
		id = fallbackIdentity(tip, height)
	}

	if err := host.StorageInsert(ctx, treeID, []byte(nodeIDStoreKey), id[:]); err != nil {
		return ZeroNodeId, Wrapf(KindConfigError, err, "persist node identity")
	}
	log.WithField("node_id", id.String()).Info("created new node identity")
	return id, nil
}

func seedIdentity(ctx context.Context, host HostAPI) (NodeId, error) {
	peerCount, hashRate, err := host.GetNetworkStats(ctx)
	if err != nil {
		return ZeroNodeId, err
	}
	tip, err := host.GetChainTip(ctx)
	if err != nil {
		return ZeroNodeId, err
	}
	height, err := host.GetBlockHeight(ctx)
	if err != nil {
		return ZeroNodeId, err
	}

	buf := make([]byte, 0, 8+8+len(tip)+8+len(identitySeedTag))
	buf = binary.LittleEndian.AppendUint64(buf, peerCount)
	buf = binary.LittleEndian.AppendUint64(buf, hashRate)
	buf = append(buf, tip...)
	buf = binary.LittleEndian.AppendUint64(buf, height)
	buf = append(buf, []byte(identitySeedTag)...)

	return NodeId(sha256.Sum256(buf)), nil
}

func fallbackIdentity(chainTip []byte, height uint64) NodeId {
	buf := append([]byte(nil), chainTip...)
	buf = binary.LittleEndian.AppendUint64(buf, height)
	buf = append(buf, []byte("mesh_node_id")...)
	return NodeId(sha256.Sum256(buf))
}

// String renders the identifier as lowercase hex, used only for logging.
func (n NodeId) String() string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 64)
	for i, b := range n {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0x0f]
	}
	return string(out)
}
