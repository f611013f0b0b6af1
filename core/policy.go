package core

import (
	"encoding/binary"
	"sync/atomic"
)

// Protocol is the closed set of wire protocols the classifier recognizes.
type Protocol int

const (
	ProtoUnknown Protocol = iota
	ProtoBitcoinP2P
	ProtoCommonsGovernance
	ProtoStratumV2
	ProtoMeshPacket
)

func (p Protocol) String() string {
	switch p {
	case ProtoBitcoinP2P:
		return "bitcoin_p2p"
	case ProtoCommonsGovernance:
		return "commons_governance"
	case ProtoStratumV2:
		return "stratum_v2"
	case ProtoMeshPacket:
		return "mesh_packet"
	default:
		return "unknown"
	}
}

// Policy is the routing decision the forwarder gates on.
type Policy int

const (
	PolicyFree Policy = iota
	PolicyPaymentRequired
)

const (
	bitcoinMainnetMagic = 0xD9B4BEF9
	bitcoinTestnetMagic = 0x0709110B
	bitcoinRegtestMagic = 0xDAB5BFFA
)

var bitcoinP2PCommands = map[string]struct{}{
	"version": {}, "verack": {}, "ping": {}, "pong": {}, "inv": {}, "tx": {},
	"block": {}, "headers": {}, "getheaders": {}, "getblocks": {}, "getdata": {},
	"notfound": {}, "addr": {}, "getaddr": {}, "mempool": {}, "feefilter": {},
	"sendheaders": {}, "sendcmpct": {}, "cmpctblock": {}, "getblocktxn": {},
	"blocktxn": {}, "cfilter": {}, "cfheaders": {}, "cfcheckpt": {}, "getcfilters": {},
	"getcfheaders": {}, "getcfcheckpt": {}, "pkgtxn": {}, "getpkgtxns": {},
}

var governanceCommands = map[string]struct{}{
	"econreg": {}, "econveto": {}, "econstat": {}, "econfork": {},
	"getbanlist": {}, "banlist": {},
}

var meshMagic = [4]byte{0x4D, 0x45, 0x53, 0x48} // "MESH"

// DetectProtocol is a pure function: given message bytes, identify which of
// the closed set of privileged wire protocols produced it (spec §4.1). It
// never mutates state and never looks past the bytes it needs to decide.
func DetectProtocol(msg []byte) Protocol {
	if len(msg) >= 12 {
		magic := binary.LittleEndian.Uint32(msg[0:4])
		if magic == bitcoinMainnetMagic || magic == bitcoinTestnetMagic || magic == bitcoinRegtestMagic {
			cmd := trimNulString(msg[4:12])
			if _, ok := bitcoinP2PCommands[cmd]; ok {
				return ProtoBitcoinP2P
			}
			if _, ok := governanceCommands[cmd]; ok {
				return ProtoCommonsGovernance
			}
		}
	}
	if len(msg) >= 2 {
		tag := binary.LittleEndian.Uint16(msg[0:2])
		if (tag >= 0x0100 && tag <= 0x01FF) || (tag >= 0x0200 && tag <= 0x02FF) {
			return ProtoStratumV2
		}
	}
	if len(msg) >= 4 && [4]byte(msg[0:4]) == meshMagic {
		return ProtoMeshPacket
	}
	return ProtoUnknown
}

func trimNulString(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end])
}

// policyTable[mode][protocol] mirrors spec §4.1's table exactly.
var policyTable = [3][5]Policy{
	ModeBitcoinOnly: {
		ProtoUnknown:           PolicyPaymentRequired,
		ProtoBitcoinP2P:        PolicyFree,
		ProtoCommonsGovernance: PolicyFree,
		ProtoStratumV2:         PolicyFree,
		ProtoMeshPacket:        PolicyPaymentRequired,
	},
	ModePaymentGated: {
		ProtoUnknown:           PolicyPaymentRequired,
		ProtoBitcoinP2P:        PolicyFree,
		ProtoCommonsGovernance: PolicyFree,
		ProtoStratumV2:         PolicyFree,
		ProtoMeshPacket:        PolicyPaymentRequired,
	},
	ModeOpen: {
		ProtoUnknown:           PolicyFree,
		ProtoBitcoinP2P:        PolicyFree,
		ProtoCommonsGovernance: PolicyFree,
		ProtoStratumV2:         PolicyFree,
		ProtoMeshPacket:        PolicyFree,
	},
}

// PolicyEngine maps (detected protocol, mode) to a routing policy. Mode is
// held in an atomic so set_mode (spec: "advisory and may race with reads")
// never needs a lock on the read path.
type PolicyEngine struct {
	mode atomic.Int32
}

func NewPolicyEngine(mode MeshMode) *PolicyEngine {
	pe := &PolicyEngine{}
	pe.mode.Store(int32(mode))
	return pe
}

func (pe *PolicyEngine) Mode() MeshMode { return MeshMode(pe.mode.Load()) }

func (pe *PolicyEngine) SetMode(mode MeshMode) { pe.mode.Store(int32(mode)) }

// DeterminePolicy is pure given the engine's current mode.
func (pe *PolicyEngine) DeterminePolicy(proto Protocol) Policy {
	return policyTable[pe.Mode()][proto]
}

// Classify runs DetectProtocol then DeterminePolicy in one call, the shape
// the forwarder actually needs.
func (pe *PolicyEngine) Classify(payload []byte) (Protocol, Policy) {
	proto := DetectProtocol(payload)
	return proto, pe.DeterminePolicy(proto)
}
