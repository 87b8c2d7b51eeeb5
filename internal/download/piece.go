package download

import (
	"bitswarm/internal/config"
	"bitswarm/internal/peer"
)

// RealPieceLength computes spec.md 4.5's real_piece_length: pieceLength
// truncated so the final piece of a torrent does not run past
// totalLength.
func RealPieceLength(pieceIndex, pieceLength int, totalLength int64) int {
	remaining := totalLength - int64(pieceIndex)*int64(pieceLength)
	if remaining < int64(pieceLength) {
		return int(remaining)
	}
	return pieceLength
}

// Piece downloads one complete piece's bytes from a peer (spec.md 4.5,
// "Block (piece) download"). realPieceLength is the piece's actual
// length, already truncated for a trailing short piece by the caller
// (see RealPieceLength).
func Piece(sess *peer.Session, cfg config.Config, pieceIndex, realPieceLength int) ([]byte, error) {
	blockSize := cfg.BlockSize
	capacity := (realPieceLength + blockSize - 1) / blockSize

	request := func(n int) error {
		begin := n * blockSize
		length := blockSize
		if begin+length > realPieceLength {
			length = realPieceLength - begin
		}
		return sess.RequestBlock(pieceIndex, begin, length)
	}
	classify := func(index, begin int) (int, bool) {
		if index != pieceIndex {
			return 0, false
		}
		return begin / blockSize, true
	}

	chunks, err := core(sess, capacity, cfg, peer.ChunkBlock, classify, request)
	if err != nil {
		return nil, err
	}
	return concatInOrder(chunks, capacity)
}
