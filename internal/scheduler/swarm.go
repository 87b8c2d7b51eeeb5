package scheduler

import (
	"context"
	"crypto/sha1"
	"fmt"

	"golang.org/x/sync/errgroup"

	"bitswarm/internal/config"
	"bitswarm/internal/download"
	"bitswarm/internal/errs"
	"bitswarm/internal/filemap"
	"bitswarm/internal/logging"
	"bitswarm/internal/peer"
	"bitswarm/internal/torrentfile"
)

var logger = logging.For("scheduler")

// Swarm drives a bounded worker pool against a torrent's piece pool,
// generalizing the teacher's fixed wg.Add-per-peer fan-out
// (torrent/p2p.go's StartDownload) into the N-worker, dynamically-fed
// pool spec.md 4.6 describes: N stays constant while the set of peer
// endpoints it drains can grow as the tracker feed discovers more.
type Swarm struct {
	info        torrentfile.Info
	cfg         config.Config
	localPeerID [20]byte
	pool        *Pool
}

// New builds a Swarm for info, seeding its piece pool with
// 0..info.PieceCount()-1.
func New(info torrentfile.Info, cfg config.Config, localPeerID [20]byte) *Swarm {
	return &Swarm{
		info:        info,
		cfg:         cfg,
		localPeerID: localPeerID,
		pool:        NewPool(info.PieceCount()),
	}
}

// Run drains endpoints across cfg.Workers workers, each worker opening a
// session per endpoint and downloading pieces from it until the session
// dies or the pool runs dry (spec.md 4.6). endpoints may be fed
// incrementally. Run returns once endpoints is closed (or ctx is done)
// and in-flight jobs finish; an empty piece pool alone does not end it.
func (s *Swarm) Run(ctx context.Context, endpoints <-chan peer.Addr) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Workers; i++ {
		g.Go(func() error {
			return s.worker(ctx, endpoints)
		})
	}
	return g.Wait()
}

func (s *Swarm) worker(ctx context.Context, endpoints <-chan peer.Addr) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case addr, ok := <-endpoints:
			if !ok {
				return nil
			}
			s.runJob(ctx, addr)
		}
	}
}

// runJob is one "given endpoint E and info I, open a peer session..."
// iteration (spec.md 4.6). A session-level failure terminates the job
// without propagating an error to the pool's caller: a faulty or
// unreachable peer is expected, not fatal to the swarm.
func (s *Swarm) runJob(ctx context.Context, addr peer.Addr) {
	sess, err := peer.Open(ctx, addr, s.info.InfoHash, s.localPeerID, s.cfg)
	if err != nil {
		logger.Printf("open %s: %v", addr, err)
		return
	}
	defer sess.Close()

	if err := sess.Negotiate(s.info.PieceCount()); err != nil {
		logger.Printf("negotiate %s: %v", addr, err)
		return
	}
	sess.BeginDownload()

	for {
		index, ok := s.pool.Claim()
		if !ok {
			return
		}

		if sess.HasBitfield() && !Availability(sess.Bitfield, index) {
			s.pool.Requeue(index)
			continue
		}

		realLen := s.info.RealPieceLength(index)
		data, err := download.Piece(sess, s.cfg, index, realLen)
		if err != nil {
			logger.Printf("peer %s failed piece %d: %v", addr, index, err)
			s.pool.Requeue(index)
			return
		}

		if err := verifyPiece(s.info, index, data); err != nil {
			logger.Printf("peer %s sent bad piece %d, presumed faulty: %v", addr, index, err)
			s.pool.Requeue(index)
			return
		}

		writes := filemap.Plan(s.info.Files, index, s.info.PieceLength, data)
		if err := filemap.Apply(s.cfg.DownloadRoot, writes); err != nil {
			logger.Printf("writing piece %d: %v", index, err)
			s.pool.Requeue(index)
			return
		}
	}
}

// Remaining reports the piece pool's current unclaimed count, for a
// caller driving a progress display.
func (s *Swarm) Remaining() int {
	return s.pool.Remaining()
}

// PieceCount returns the torrent's total piece count.
func (s *Swarm) PieceCount() int {
	return s.info.PieceCount()
}

// verifyPiece checks data's SHA-1 against the descriptor's piece hash
// (spec.md 4.6, "SHA-1 of the reassembled piece bytes equals the 20-byte
// slice at offset 20*i").
func verifyPiece(info torrentfile.Info, index int, data []byte) error {
	if index < 0 || index >= len(info.Pieces) {
		return fmt.Errorf("scheduler: piece index %d out of range: %w", index, errs.ErrPieceVerification)
	}
	if sha1.Sum(data) != info.Pieces[index] {
		return fmt.Errorf("scheduler: piece %d: %w", index, errs.ErrPieceVerification)
	}
	return nil
}

