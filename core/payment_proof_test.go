package core

import "testing"

func TestPaymentProof_IsExpired_Boundary(t *testing.T) {
	p := &PaymentProof{Kind: ProofLightning, ExpiresAt: 1000}
	if p.IsExpired(1000) {
		t.Fatal("expires_at == now must not be expired")
	}
	if !p.IsExpired(1001) {
		t.Fatal("now > expires_at must be expired")
	}
	if p.IsExpired(999) {
		t.Fatal("now < expires_at must not be expired")
	}
}

func TestPaymentProof_IsExpired_TemplateCommitment(t *testing.T) {
	p := &PaymentProof{Kind: ProofTemplateCommitment, TsTemplate: 0}
	if p.IsExpired(templateCommitmentMaxAgeSeconds) {
		t.Fatal("exactly max age must not be expired")
	}
	if !p.IsExpired(templateCommitmentMaxAgeSeconds + 1) {
		t.Fatal("past max age must be expired")
	}
}

func TestPaymentProof_AmountSatoshis(t *testing.T) {
	lightning := &PaymentProof{Kind: ProofLightning, AmountMsats: 2500}
	if got := lightning.AmountSatoshis(); got != 2 {
		t.Fatalf("lightning AmountSatoshis() = %d, want 2", got)
	}
	template := &PaymentProof{Kind: ProofTemplateCommitment, AmountSats: 9}
	if got := template.AmountSatoshis(); got != 9 {
		t.Fatalf("template AmountSatoshis() = %d, want 9", got)
	}
}

func TestPaymentProof_Hash_Deterministic(t *testing.T) {
	p1 := &PaymentProof{Kind: ProofLightning, Invoice: "lnbc1", AmountMsats: 1000, Timestamp: 1, ExpiresAt: 2}
	p2 := &PaymentProof{Kind: ProofLightning, Invoice: "lnbc1", AmountMsats: 1000, Timestamp: 1, ExpiresAt: 2}
	if p1.Hash() != p2.Hash() {
		t.Fatal("identical proofs must hash identically")
	}
	p2.AmountMsats = 1001
	if p1.Hash() == p2.Hash() {
		t.Fatal("differing proofs must hash differently")
	}
}

func TestPaymentProof_Hash_DistinguishesKind(t *testing.T) {
	lightning := &PaymentProof{Kind: ProofLightning}
	template := &PaymentProof{Kind: ProofTemplateCommitment}
	if lightning.Hash() == template.Hash() {
		t.Fatal("different proof kinds must not collide")
	}
}
