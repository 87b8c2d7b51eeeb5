// Package download runs the request/reassemble loop against a single
// peer session: a pipelined request queue paired with an index-addressed
// chunk buffer, generalized from the teacher's attemptToDownloadPiece
// and grounded on the request/requested-map shape of
// rain's infodownloader.InfoDownloader.
package download

import (
	"fmt"

	"bitswarm/internal/config"
	"bitswarm/internal/errs"
	"bitswarm/internal/peer"
)

// requestFunc issues the n-th outstanding request.
type requestFunc func(n int) error

// core runs the assembler loop contract of spec.md 4.5: poll for a
// chunk, classify it, request more while under the pipeline depth, and
// fail on choke or idle. want is the expected ChunkKind for this
// assembler instance (a session may interleave block and metadata
// frames when the caller runs both concurrently, though the core
// downloader never does).
// keyFunc maps a raw (pieceIndex, blockOffset) pair reported by
// NextChunk to the assembler's chunk key, or reports the chunk does not
// belong to this download (e.g. a piece message for a different piece
// than the one being assembled).
type keyFunc func(index, begin int) (key int, ok bool)

func core(sess *peer.Session, capacity int, cfg config.Config, want peer.ChunkKind, classify keyFunc, request requestFunc) (map[int][]byte, error) {
	chunks := make(map[int][]byte, capacity)
	outstanding := map[int]struct{}{}
	nextToRequest := 0
	idleRounds := 0

	for len(chunks) < capacity {
		kind, index, begin, data, err := sess.NextChunk()
		if err != nil {
			return nil, err
		}

		progress := false
		if kind == want {
			if key, ok := classify(index, begin); ok {
				if _, dup := chunks[key]; !dup {
					chunks[key] = data
					delete(outstanding, key)
					progress = true
				}
			}
		}

		if len(chunks) == capacity {
			break
		}
		if sess.Choked() {
			return nil, errs.ErrChokedPeer
		}

		for len(outstanding) < cfg.PipelineDepth && nextToRequest < capacity {
			if err := request(nextToRequest); err != nil {
				return nil, err
			}
			outstanding[nextToRequest] = struct{}{}
			nextToRequest++
			progress = true
		}

		if progress {
			idleRounds = 0
		} else {
			idleRounds++
			if idleRounds > cfg.IdleRounds {
				return nil, errs.ErrIdle
			}
		}
	}
	return chunks, nil
}

func concatInOrder(chunks map[int][]byte, n int) ([]byte, error) {
	var out []byte
	for i := 0; i < n; i++ {
		c, ok := chunks[i]
		if !ok {
			return nil, fmt.Errorf("download: missing chunk %d of %d", i, n)
		}
		out = append(out, c...)
	}
	return out, nil
}
