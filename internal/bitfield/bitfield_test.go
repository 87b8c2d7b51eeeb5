package bitfield

import "testing"

func TestSetAndHasPiece(t *testing.T) {
	bf := New(20)
	if bf.HasPiece(4) {
		t.Fatal("fresh bitfield should have no pieces")
	}
	bf.SetPiece(4)
	if !bf.HasPiece(4) {
		t.Fatal("piece 4 should be set")
	}
	if bf.HasPiece(5) {
		t.Fatal("piece 5 should still be unset")
	}
}

func TestHasPieceOutOfRangeIsFalse(t *testing.T) {
	bf := New(4)
	if bf.HasPiece(1000) {
		t.Fatal("out of range piece should report false, not panic")
	}
}

func TestSetPieceOutOfRangeIsNoop(t *testing.T) {
	bf := New(4)
	bf.SetPiece(1000) // must not panic
}
