package core

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/benbjohnson/clock"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/zpay32"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Verifier checks PaymentProof authenticity against the two accepted proof
// shapes (spec §4.3). It never trusts proof-declared amounts or timestamps
// where a cheaper derivation exists from the proof's own cryptographic
// material.
type Verifier struct {
	log    *logrus.Logger
	params *chaincfg.Params
	clock  clock.Clock
}

func NewVerifier(log *logrus.Logger, network string, clk clock.Clock) *Verifier {
	return &Verifier{log: log, params: networkParams(network), clock: clk}
}

func networkParams(network string) *chaincfg.Params {
	switch network {
	case "testnet":
		return &chaincfg.TestNet3Params
	case "regtest":
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// VerifyProof checks a single proof. Expiry is checked up front, before any
// kind-specific work, mirroring original_source/src/verifier.rs's verify()
// checking proof.is_expired() before dispatching on the proof variant. The
// returned error is non-nil only for an operational failure talking to the
// host (an "oracle error" in spec §4.3's terms) — a proof that is simply
// invalid comes back as a VerificationResult with Verified=false and a
// human-readable Error.
func (v *Verifier) VerifyProof(ctx context.Context, host HostAPI, proof *PaymentProof) (VerificationResult, error) {
	now := v.clock.Now().Unix()
	if proof.IsExpired(now) {
		return verificationFailure("proof expired"), nil
	}

	switch proof.Kind {
	case ProofLightning:
		return v.verifyLightning(ctx, host, proof, now)
	case ProofTemplateCommitment:
		return v.verifyTemplateCommitment(proof)
	default:
		return verificationFailure("unrecognized proof kind"), nil
	}
}

func (v *Verifier) verifyLightning(ctx context.Context, host HostAPI, proof *PaymentProof, now int64) (VerificationResult, error) {
	inv, err := zpay32.Decode(proof.Invoice, v.params)
	if err != nil {
		return verificationFailure("invalid BOLT11 invoice: " + err.Error()), nil
	}
	if inv.PaymentHash == nil {
		return verificationFailure("invoice has no payment hash"), nil
	}

	preimageHash := sha256.Sum256(proof.Preimage[:])
	if !bytes.Equal(preimageHash[:], inv.PaymentHash[:]) {
		return verificationFailure("preimage does not match invoice payment hash"), nil
	}

	if inv.MilliSat == nil {
		return verificationFailure("invoice does not specify an amount"), nil
	}
	if uint64(*inv.MilliSat) != proof.AmountMsats {
		return verificationFailure("declared amount does not match invoice amount"), nil
	}

	expiresAt := inv.Timestamp.Unix() + int64(inv.Expiry().Seconds())
	if expiresAt < now {
		return verificationFailure("invoice has expired"), nil
	}

	// Informational settlement lookup keyed the way the host's payment
	// subsystem indexes Lightning payments (spec §4.3 step 6); a miss or
	// error never affects the verdict, since the invoice/preimage check
	// above is what actually proves the payment.
	paymentID := "lightning_" + hex.EncodeToString(proof.Preimage[:16])
	if _, err := host.GetPaymentState(ctx, paymentID); err != nil {
		v.log.WithField("payment_id", paymentID).Debug("payment state lookup failed, proceeding on proof validity alone")
	}

	return verificationSuccess(proof.AmountSatoshis(), proof.Timestamp, &expiresAt), nil
}

// verifyTemplateCommitment is a self-contained recompute-and-compare check:
// it never calls the host. It verifies that the proof's claimed output set
// contains an output paying the claimed amount, then recomputes the
// template hash over those outputs and compares it bit-exact against the
// proof's claimed hash (original_source/src/verifier.rs's verify_ctv:
// deserialize the covenant proof, check an output's value, recalculate the
// template hash via CovenantEngine and compare — no NodeAPI call at all).
func (v *Verifier) verifyTemplateCommitment(proof *PaymentProof) (VerificationResult, error) {
	if len(proof.Outputs) == 0 {
		return verificationFailure("empty covenant transaction template"), nil
	}
	if proof.AmountSats == 0 {
		return verificationFailure("zero amount"), nil
	}

	found := false
	for _, out := range proof.Outputs {
		if out.ValueSats == proof.AmountSats {
			found = true
			break
		}
	}
	if !found {
		return verificationFailure("no template output matches the claimed amount"), nil
	}

	if computeTemplateHash(proof.Outputs) != proof.TemplateHash {
		return verificationFailure("template hash does not match the recomputed commitment"), nil
	}

	expiresAt := proof.TsTemplate + templateCommitmentMaxAgeSeconds
	return verificationSuccess(proof.AmountSats, proof.TsTemplate, &expiresAt), nil
}

// computeTemplateHash recomputes the commitment a covenant's transaction
// template implies, over its declared outputs in order.
func computeTemplateHash(outputs []TemplateOutput) [32]byte {
	buf := make([]byte, 0, 64*len(outputs))
	for _, out := range outputs {
		buf = binary.LittleEndian.AppendUint64(buf, out.ValueSats)
		buf = appendLenPrefixed(buf, out.ScriptPubKey)
	}
	return sha256.Sum256(buf)
}

// VerifyBatch verifies proofs concurrently, one goroutine per proof. Neither
// proof kind's verdict depends on the host oracle succeeding (the Lightning
// path logs and continues on a lookup failure; the template commitment path
// never calls the host at all), so in practice every VerifyProof call
// returns a nil error; the errgroup plumbing is kept so a future host-backed
// check has somewhere to fail fast. An individual invalid proof is recorded
// in that slot's VerificationResult rather than aborting the batch.
func (v *Verifier) VerifyBatch(ctx context.Context, host HostAPI, proofs []*PaymentProof) ([]VerificationResult, error) {
	results := make([]VerificationResult, len(proofs))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range proofs {
		i, p := i, p
		g.Go(func() error {
			res, err := v.VerifyProof(gctx, host, p)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
