package main

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/BTCDecoded/blvm-mesh/core"
)

// localHost is a minimal core.HostAPI implementation backed by the local
// filesystem, used only when running meshd standalone for inspection. A
// production deployment replaces this with an IPC client talking to the
// embedding host process over socketPath.
type localHost struct {
	dir string
	log *logrus.Logger

	mu    sync.Mutex
	trees map[string]map[string][]byte
}

func newLocalHost(dataDir string, log *logrus.Logger) *localHost {
	_ = os.MkdirAll(dataDir, 0o755)
	return &localHost{dir: dataDir, log: log, trees: make(map[string]map[string][]byte)}
}

func (h *localHost) SendMeshPacketToPeer(ctx context.Context, address []byte, payload []byte) error {
	h.log.WithFields(logrus.Fields{
		"peer":  hex.EncodeToString(address),
		"bytes": len(payload),
	}).Debug("local host: would send mesh packet to peer")
	return nil
}

func (h *localHost) GetPaymentState(ctx context.Context, id string) ([]byte, error) {
	return nil, core.NewError(core.KindPaymentVerification, "no payment oracle configured")
}

func (h *localHost) StorageOpenTree(ctx context.Context, name string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.trees[name]; !ok {
		h.trees[name] = make(map[string][]byte)
		h.loadTree(name)
	}
	return name, nil
}

func (h *localHost) StorageGet(ctx context.Context, tree string, key []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.trees[tree]
	if !ok {
		return nil, core.NewError(core.KindConfigError, "tree not open")
	}
	v, ok := t[string(key)]
	if !ok {
		return nil, core.NewError(core.KindConfigError, "key not found")
	}
	return v, nil
}

func (h *localHost) StorageInsert(ctx context.Context, tree string, key, value []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.trees[tree]
	if !ok {
		return core.NewError(core.KindConfigError, "tree not open")
	}
	t[string(key)] = append([]byte{}, value...)
	return h.saveTreeLocked(tree)
}

func (h *localHost) GetNetworkStats(ctx context.Context) (peerCount, hashRate uint64, err error) {
	return 0, 0, core.NewError(core.KindConfigError, "no network stats available standalone")
}

func (h *localHost) GetChainTip(ctx context.Context) ([]byte, error) {
	return []byte("standalone-chain-tip"), nil
}

func (h *localHost) GetBlockHeight(ctx context.Context) (uint64, error) {
	return 0, nil
}

// loadTree and saveTreeLocked persist the node-identity key across restarts
// so standalone runs keep a stable NodeId; nothing else in the standalone
// harness needs durability.
func (h *localHost) loadTree(name string) {
	data, err := os.ReadFile(filepath.Join(h.dir, name+".id"))
	if err == nil && len(data) > 0 {
		h.trees[name]["node_id"] = data
	}
}

func (h *localHost) saveTreeLocked(name string) error {
	v, ok := h.trees[name]["node_id"]
	if !ok {
		return nil
	}
	return os.WriteFile(filepath.Join(h.dir, name+".id"), v, 0o600)
}
