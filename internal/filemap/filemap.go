// Package filemap computes, and performs, the writes a verified piece
// turns into on a multi-file torrent's file list (spec.md 4.7),
// generalizing lvbealr-BitTorrent's inline straddle loop in
// torrent/p2p.go's download loop (pieceStart/pieceEnd vs each file's
// fileStart/fileEnd, clipped to the overlap) into a standalone,
// independently testable mapper plus a positional-write helper.
package filemap

import (
	"fmt"
	"os"
	"path/filepath"

	"bitswarm/internal/torrentfile"
)

// Write is one (file, offset, slice) instruction a piece decomposes into.
type Write struct {
	Path   string
	Offset int64
	Data   []byte
}

// Plan computes the writes piece (at pieceIndex, under nominalPieceLength)
// decomposes into across files, in file order. len(piece) may be shorter
// than nominalPieceLength for the final piece; span calculation uses
// len(piece), not the nominal length (spec.md 4.7).
func Plan(files []torrentfile.FileEntry, pieceIndex int, nominalPieceLength int, piece []byte) []Write {
	start := int64(pieceIndex) * int64(nominalPieceLength)
	end := start + int64(len(piece))

	var writes []Write
	var r int64
	for _, f := range files {
		fileStart := r
		r += f.Length
		fileEnd := r

		overlapStart := maxInt64(start, fileStart)
		overlapEnd := minInt64(end, fileEnd)
		if overlapStart >= overlapEnd {
			continue
		}

		writes = append(writes, Write{
			Path:   f.Path,
			Offset: overlapStart - fileStart,
			Data:   piece[overlapStart-start : overlapEnd-start],
		})
	}
	return writes
}

// Apply performs each write under root, creating parent directories and
// the target file on demand, writing at an absolute offset rather than
// the current file position (spec.md 4.7, "positional write").
func Apply(root string, writes []Write) error {
	for _, w := range writes {
		full := filepath.Join(root, w.Path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("filemap: creating directory for %s: %w", full, err)
		}
		f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("filemap: opening %s: %w", full, err)
		}
		_, werr := f.WriteAt(w.Data, w.Offset)
		cerr := f.Close()
		if werr != nil {
			return fmt.Errorf("filemap: writing %s at offset %d: %w", full, w.Offset, werr)
		}
		if cerr != nil {
			return fmt.Errorf("filemap: closing %s: %w", full, cerr)
		}
	}
	return nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
