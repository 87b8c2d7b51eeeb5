package scheduler

import (
	"testing"

	"bitswarm/internal/bitfield"
)

func TestPoolClaimDrainsInOrder(t *testing.T) {
	p := NewPool(3)
	seen := map[int]bool{}
	for i := 0; i < 3; i++ {
		idx, ok := p.Claim()
		if !ok {
			t.Fatalf("Claim() ok=false on iteration %d", i)
		}
		if idx != i {
			t.Fatalf("Claim() = %d on iteration %d, want %d (FIFO order)", idx, i, i)
		}
		seen[idx] = true
	}
	if len(seen) != 3 {
		t.Fatalf("seen = %v, want 3 distinct indices", seen)
	}
	if _, ok := p.Claim(); ok {
		t.Fatal("expected pool to be empty")
	}
}

func TestPoolRequeueMakesIndexClaimableAgain(t *testing.T) {
	p := NewPool(1)
	idx, ok := p.Claim()
	if !ok || idx != 0 {
		t.Fatalf("Claim() = %d, %v", idx, ok)
	}
	if _, ok := p.Claim(); ok {
		t.Fatal("expected pool to be empty after single claim")
	}
	p.Requeue(idx)
	idx2, ok := p.Claim()
	if !ok || idx2 != 0 {
		t.Fatalf("Claim() after Requeue = %d, %v", idx2, ok)
	}
}

func TestAvailability(t *testing.T) {
	bf := bitfield.New(8)
	bf.SetPiece(3)
	if !Availability(bf, 3) {
		t.Fatal("expected piece 3 to be available")
	}
	if Availability(bf, 4) {
		t.Fatal("expected piece 4 to be unavailable")
	}
	if Availability(nil, 0) {
		t.Fatal("expected nil bitfield to report unavailable")
	}
}
