package download

import (
	"bitswarm/internal/config"
	"bitswarm/internal/peer"
)

// Info downloads the complete bencoded info dictionary from a peer that
// has already negotiated ut_metadata (spec.md 4.5, "Info download").
// Capacity is ceil(metadata_size / cfg.BlockSize); the concatenation of
// the returned chunks is the raw info dictionary bytes, not yet decoded.
func Info(sess *peer.Session, cfg config.Config) ([]byte, error) {
	infoChunkSize := cfg.BlockSize
	metadataSize := sess.MetadataSize()
	capacity := (metadataSize + infoChunkSize - 1) / infoChunkSize
	if capacity == 0 {
		capacity = 1
	}

	request := func(n int) error {
		return sess.RequestMetadataPiece(n)
	}
	classify := func(index, begin int) (int, bool) { return index, true }

	chunks, err := core(sess, capacity, cfg, peer.ChunkMetadata, classify, request)
	if err != nil {
		return nil, err
	}
	return concatInOrder(chunks, capacity)
}
