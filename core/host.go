package core

import "context"

// HostAPI is the narrow boundary this module requires from the host node.
// Every method here is an external collaborator per spec §1/§6 — the core
// never implements chain, mempool, lightning, storage or transport logic
// itself, it only consumes these operations. Modeled on the teacher's
// Nodes.NodeInterface pattern (core/gateway_node.go in the teacher), which
// wraps an external dependency behind a small interface instead of
// reimplementing it.
type HostAPI interface {
	// SendMeshPacketToPeer hands a framed packet to the host's on-wire
	// transport for delivery to the peer reachable at address.
	SendMeshPacketToPeer(ctx context.Context, address []byte, payload []byte) error

	// GetPaymentState is an informational lookup against the host's
	// lightning/payment subsystem. A nil, nil return means "unknown", not
	// "invalid" — verification never fails solely because this call errors
	// or returns nothing (spec §4.3 step 6).
	GetPaymentState(ctx context.Context, id string) ([]byte, error)

	StorageOpenTree(ctx context.Context, name string) (string, error)
	StorageGet(ctx context.Context, treeID string, key []byte) ([]byte, error)
	StorageInsert(ctx context.Context, treeID string, key, value []byte) error

	GetNetworkStats(ctx context.Context) (peerCount uint64, hashRate uint64, err error)
	GetChainTip(ctx context.Context) ([]byte, error)
	GetBlockHeight(ctx context.Context) (uint64, error)
}

// PeerEventType enumerates the host lifecycle and chain/payment events this
// module subscribes to. The original module subscribed to a wider event set
// than spec.md's distillation mentions (original_source/src/main.rs); the
// routing-affecting pair is PeerConnected/PeerDisconnected; Forwarder.HandleEvent
// acts only on that pair and ignores every other event type.
type PeerEventType string

const (
	EventPeerConnected            PeerEventType = "peer_connected"
	EventPeerDisconnected         PeerEventType = "peer_disconnected"
	EventMessageReceived          PeerEventType = "message_received"
	EventMessageSent              PeerEventType = "message_sent"
	EventPaymentRequestCreated    PeerEventType = "payment_request_created"
	EventPaymentVerified          PeerEventType = "payment_verified"
	EventPaymentSettled           PeerEventType = "payment_settled"
	EventNewBlock                 PeerEventType = "new_block"
	EventChainReorg               PeerEventType = "chain_reorg"
	EventMempoolTransactionAdded  PeerEventType = "mempool_transaction_added"
	EventFeeRateChanged           PeerEventType = "fee_rate_changed"
)

// TransportType identifies the on-wire transport a peer connected over; the
// core treats it as opaque metadata and never branches on it.
type TransportType string

// Event is a single host-originated notification. Address is present for
// peer lifecycle events; the remaining fields are populated according to
// Type and are otherwise zero-valued.
type Event struct {
	Type          PeerEventType
	Address       []byte
	TransportType TransportType
}
