package core

import (
	"context"
	"sync"
)

// fakeHost is a minimal, configurable core.HostAPI double for tests.
type fakeHost struct {
	mu sync.Mutex

	sent []sentPacket

	paymentStates map[string][]byte
	paymentErr    error

	trees map[string]map[string][]byte

	peerCount, hashRate uint64
	chainTip            []byte
	blockHeight         uint64
	statsErr            error
}

type sentPacket struct {
	address []byte
	payload []byte
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		paymentStates: make(map[string][]byte),
		trees:         make(map[string]map[string][]byte),
		chainTip:      []byte("tip"),
	}
}

func (h *fakeHost) SendMeshPacketToPeer(ctx context.Context, address []byte, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, sentPacket{address: append([]byte{}, address...), payload: append([]byte{}, payload...)})
	return nil
}

func (h *fakeHost) GetPaymentState(ctx context.Context, id string) ([]byte, error) {
	if h.paymentErr != nil {
		return nil, h.paymentErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paymentStates[id], nil
}

func (h *fakeHost) StorageOpenTree(ctx context.Context, name string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.trees[name]; !ok {
		h.trees[name] = make(map[string][]byte)
	}
	return name, nil
}

func (h *fakeHost) StorageGet(ctx context.Context, tree string, key []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.trees[tree][string(key)]
	if !ok {
		return nil, NewError(KindConfigError, "not found")
	}
	return v, nil
}

func (h *fakeHost) StorageInsert(ctx context.Context, tree string, key, value []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.trees[tree] == nil {
		h.trees[tree] = make(map[string][]byte)
	}
	h.trees[tree][string(key)] = append([]byte{}, value...)
	return nil
}

func (h *fakeHost) GetNetworkStats(ctx context.Context) (uint64, uint64, error) {
	return h.peerCount, h.hashRate, h.statsErr
}

func (h *fakeHost) GetChainTip(ctx context.Context) ([]byte, error) {
	return h.chainTip, nil
}

func (h *fakeHost) GetBlockHeight(ctx context.Context) (uint64, error) {
	return h.blockHeight, nil
}

func idFromByte(b byte) NodeId {
	var id NodeId
	id[0] = b
	id[31] = b
	return id
}
