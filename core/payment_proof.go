package core

import (
	"crypto/sha256"
	"encoding/binary"
)

// ProofKind distinguishes the two PaymentProof variants (spec §3).
type ProofKind uint8

const (
	ProofLightning ProofKind = iota
	ProofTemplateCommitment
)

const templateCommitmentMaxAgeSeconds = 24 * 60 * 60

// TemplateOutput is one output of a covenant's transaction template: the
// amount it pays and the script it pays to. A TemplateCommitment proof
// carries the whole output set so the verifier can recompute the template
// hash locally instead of trusting it (see Verifier.verifyTemplateCommitment).
type TemplateOutput struct {
	ValueSats    uint64
	ScriptPubKey []byte
}

// PaymentProof is a tagged union of the two proof shapes the verifier
// accepts. Only the fields relevant to Kind are populated; this mirrors the
// original Rust enum (original_source/src/payment_proof.rs) more directly
// than a Go interface would, since both variants need a single canonical
// byte encoding for Hash().
type PaymentProof struct {
	Kind ProofKind

	// Lightning fields.
	Invoice     string
	Preimage    [32]byte
	AmountMsats uint64
	Timestamp   int64
	ExpiresAt   int64

	// TemplateCommitment fields: Outputs and TemplateHash are the proof's
	// claims about a CheckTemplateVerify covenant's transaction template
	// (original_source/src/verifier.rs's verify_ctv: a deserialized
	// CovenantProof carrying transaction_template.outputs and template_hash).
	// AmountSats is the payment amount the proof is offered against.
	Outputs      []TemplateOutput
	TemplateHash [32]byte
	AmountSats   uint64
	TsTemplate   int64
}

// AmountSatoshis returns the payment amount normalized to satoshis (spec
// §3: msats/1000 for Lightning, direct for template commitments).
func (p *PaymentProof) AmountSatoshis() uint64 {
	if p.Kind == ProofLightning {
		return p.AmountMsats / 1000
	}
	return p.AmountSats
}

// ProofTimestamp returns the proof's own timestamp field.
func (p *PaymentProof) ProofTimestamp() int64 {
	if p.Kind == ProofLightning {
		return p.Timestamp
	}
	return p.TsTemplate
}

// IsExpired reports whether the proof is no longer usable as of now. Strict
// greater-than per spec §3 and §8 ("a proof with expires_at == now is NOT
// expired... is_expired ⇔ now > expires_at").
func (p *PaymentProof) IsExpired(nowUnix int64) bool {
	if p.Kind == ProofLightning {
		return nowUnix > p.ExpiresAt
	}
	return nowUnix > p.TsTemplate+templateCommitmentMaxAgeSeconds
}

// Hash is the canonical SHA-256 replay key: SHA-256 of a deterministic
// byte encoding of the entire proof (spec §3). The layout mirrors the wire
// framing convention from spec §6 (fixed-width little-endian integers,
// u64 length prefixes on variable-length fields) so one codec style is used
// throughout the module.
func (p *PaymentProof) Hash() [32]byte {
	return sha256.Sum256(p.canonicalBytes())
}

func (p *PaymentProof) canonicalBytes() []byte {
	buf := []byte{byte(p.Kind)}
	if p.Kind == ProofLightning {
		buf = appendLenPrefixed(buf, []byte(p.Invoice))
		buf = append(buf, p.Preimage[:]...)
		buf = binary.LittleEndian.AppendUint64(buf, p.AmountMsats)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(p.Timestamp))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(p.ExpiresAt))
		return buf
	}
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(p.Outputs)))
	for _, o := range p.Outputs {
		buf = binary.LittleEndian.AppendUint64(buf, o.ValueSats)
		buf = appendLenPrefixed(buf, o.ScriptPubKey)
	}
	buf = append(buf, p.TemplateHash[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, p.AmountSats)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.TsTemplate))
	return buf
}

func appendLenPrefixed(buf []byte, data []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(data)))
	return append(buf, data...)
}

// VerificationResult is the verifier's in-band success/failure report (spec
// §4.3): failures are returned, not raised.
type VerificationResult struct {
	Verified  bool
	Amount    uint64
	Timestamp int64
	ExpiresAt *int64
	Error     string
}

func verificationSuccess(amount uint64, timestamp int64, expiresAt *int64) VerificationResult {
	return VerificationResult{Verified: true, Amount: amount, Timestamp: timestamp, ExpiresAt: expiresAt}
}

func verificationFailure(reason string) VerificationResult {
	return VerificationResult{Verified: false, Error: reason}
}
