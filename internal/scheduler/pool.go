// Package scheduler drains discovered peer endpoints into a bounded
// worker pool, each worker claiming pieces from a shared FIFO pool until
// it is empty or its session dies, generalizing the teacher's
// startDownloadWorker/workQueue pair (torrent/torrent.go) into a
// restartable pool with verification and a requeue-on-failure contract
// (spec.md 4.6).
package scheduler

import (
	"bitswarm/internal/bitfield"
)

// Pool is a FIFO of unclaimed piece indices, serialized through a
// channel the way the teacher serialized its workQueue: a channel
// already gives FIFO ordering and mutual exclusion, so no separate
// mutex+slice is introduced (spec.md 4.6 describes push_back/pop_front
// under a mutex, which a buffered channel already satisfies).
type Pool struct {
	indices chan int
}

// NewPool seeds a pool with 0..numPieces-1.
func NewPool(numPieces int) *Pool {
	p := &Pool{indices: make(chan int, numPieces)}
	for i := 0; i < numPieces; i++ {
		p.indices <- i
	}
	return p
}

// Claim yields one index, or ok=false if the pool is empty (spec.md 4.6,
// "a worker that sees an empty pool exits cleanly").
func (p *Pool) Claim() (index int, ok bool) {
	select {
	case i := <-p.indices:
		return i, true
	default:
		return 0, false
	}
}

// Requeue pushes index back onto the pool after a failed attempt;
// position is not guaranteed (spec.md 4.6).
func (p *Pool) Requeue(index int) {
	p.indices <- index
}

// Remaining reports how many indices are currently unclaimed, for
// progress reporting; it is a snapshot, not a synchronization point.
func (p *Pool) Remaining() int {
	return len(p.indices)
}

// Availability reports whether a peer's bitfield claims to have index,
// used by a worker deciding whether its current peer can serve the next
// claimed piece (spec.md 4.6's job loop: "for as long as the pool is
// non-empty and the session is alive").
func Availability(bf bitfield.Bitfield, index int) bool {
	return bf != nil && bf.HasPiece(index)
}
