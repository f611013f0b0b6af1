package core

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestReplayGuard_RejectsDuplicateProof(t *testing.T) {
	clk := clock.NewMock()
	g := NewReplayGuard(time.Hour, clk)
	proof := &PaymentProof{Kind: ProofLightning, Invoice: "lnbc1", ExpiresAt: 100}
	peer := idFromByte(1)

	if err := g.CheckReplay(proof, peer, 1); err != nil {
		t.Fatalf("first use should succeed, got %v", err)
	}
	if err := g.CheckReplay(proof, peer, 2); !IsKind(err, KindReplayDetected) {
		t.Fatalf("second use of same proof should be rejected as replay, got %v", err)
	}
}

func TestReplayGuard_RejectsNonIncreasingSequence(t *testing.T) {
	clk := clock.NewMock()
	g := NewReplayGuard(time.Hour, clk)
	peer := idFromByte(2)

	p1 := &PaymentProof{Kind: ProofLightning, Invoice: "a", ExpiresAt: 100}
	p2 := &PaymentProof{Kind: ProofLightning, Invoice: "b", ExpiresAt: 100}
	p3 := &PaymentProof{Kind: ProofLightning, Invoice: "c", ExpiresAt: 100}

	if err := g.CheckReplay(p1, peer, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.CheckReplay(p2, peer, 5); !IsKind(err, KindReplayDetected) {
		t.Fatalf("equal sequence should be rejected, got %v", err)
	}
	if err := g.CheckReplay(p3, peer, 4); !IsKind(err, KindReplayDetected) {
		t.Fatalf("lower sequence should be rejected, got %v", err)
	}
}

func TestReplayGuard_RejectsExpiredProof(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Unix(1000, 0))
	g := NewReplayGuard(time.Hour, clk)
	proof := &PaymentProof{Kind: ProofLightning, Invoice: "x", ExpiresAt: 999}
	if err := g.CheckReplay(proof, idFromByte(3), 1); !IsKind(err, KindPaymentVerification) {
		t.Fatalf("expired proof should fail verification, got %v", err)
	}
}

func TestReplayGuard_CleanupExpired_KeepsSequenceFloor(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Unix(0, 0))
	g := NewReplayGuard(time.Second, clk)
	peer := idFromByte(4)
	proof := &PaymentProof{Kind: ProofLightning, Invoice: "y", ExpiresAt: 10000}

	if err := g.CheckReplay(proof, peer, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clk.Add(2 * time.Second)
	if removed := g.CleanupExpired(); removed != 1 {
		t.Fatalf("expected 1 entry removed, got %d", removed)
	}

	// Even though the hash entry is gone, the sequence floor must survive:
	// a replayed sequence <= 3 is still rejected.
	proof2 := &PaymentProof{Kind: ProofLightning, Invoice: "z", ExpiresAt: 10000}
	if err := g.CheckReplay(proof2, peer, 2); !IsKind(err, KindReplayDetected) {
		t.Fatalf("sequence floor should survive cleanup, got %v", err)
	}
}

func TestReplayGuard_ConcurrentSameProof_OnlyOneSucceeds(t *testing.T) {
	clk := clock.NewMock()
	g := NewReplayGuard(time.Hour, clk)
	proof := &PaymentProof{Kind: ProofLightning, Invoice: "race", ExpiresAt: 1_000_000}
	peer := idFromByte(5)

	const n = 50
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(seq uint64) {
			results <- g.CheckReplay(proof, peer, seq+1)
		}(uint64(i))
	}

	successes := 0
	for i := 0; i < n; i++ {
		if <-results == nil {
			successes++
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly 1 success among concurrent identical proofs, got %d", successes)
	}
}
