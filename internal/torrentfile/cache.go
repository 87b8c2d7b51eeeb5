package torrentfile

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// cachedInfo is Info's JSON-serializable shadow: [20]byte arrays don't
// round-trip through encoding/json the way a hex string does.
type cachedInfo struct {
	Name         string      `json:"name"`
	PieceLength  int         `json:"piece_length"`
	Pieces       string      `json:"pieces_hex"`
	TotalLength  int64       `json:"total_length"`
	Files        []FileEntry `json:"files"`
	InfoHash     string      `json:"info_hash"`
	Announce     string      `json:"announce"`
	AnnounceList [][]string  `json:"announce_list"`
}

// CachePath returns the path a descriptor for infoHash is stored at
// under dir: the file name is the lowercase hex encoding of the info
// hash.
func CachePath(dir string, infoHash [20]byte) string {
	return filepath.Join(dir, hex.EncodeToString(infoHash[:]))
}

// SaveCache persists info's descriptor as JSON under dir.
func SaveCache(dir string, info Info) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("torrentfile: creating cache dir: %w", err)
	}
	c := toCached(info)
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("torrentfile: encoding cached descriptor: %w", err)
	}
	return os.WriteFile(CachePath(dir, info.InfoHash), data, 0o644)
}

// LoadCache reads a previously cached descriptor for infoHash, or
// (_, false, nil) if none exists.
func LoadCache(dir string, infoHash [20]byte) (Info, bool, error) {
	data, err := os.ReadFile(CachePath(dir, infoHash))
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, false, nil
		}
		return Info{}, false, fmt.Errorf("torrentfile: reading cached descriptor: %w", err)
	}
	var c cachedInfo
	if err := json.Unmarshal(data, &c); err != nil {
		return Info{}, false, fmt.Errorf("torrentfile: decoding cached descriptor: %w", err)
	}
	info, err := fromCached(c)
	return info, true, err
}

func toCached(info Info) cachedInfo {
	piecesHex := make([]byte, 0, len(info.Pieces)*40)
	for _, h := range info.Pieces {
		piecesHex = append(piecesHex, []byte(hex.EncodeToString(h[:]))...)
	}
	return cachedInfo{
		Name:         info.Name,
		PieceLength:  info.PieceLength,
		Pieces:       string(piecesHex),
		TotalLength:  info.TotalLength,
		Files:        info.Files,
		InfoHash:     hex.EncodeToString(info.InfoHash[:]),
		Announce:     info.Announce,
		AnnounceList: info.AnnounceList,
	}
}

func fromCached(c cachedInfo) (Info, error) {
	infoHashBytes, err := hex.DecodeString(c.InfoHash)
	if err != nil {
		return Info{}, fmt.Errorf("torrentfile: bad cached info hash: %w", err)
	}
	var infoHash [20]byte
	copy(infoHash[:], infoHashBytes)

	piecesBytes, err := hex.DecodeString(c.Pieces)
	if err != nil {
		return Info{}, fmt.Errorf("torrentfile: bad cached pieces: %w", err)
	}
	pieces, err := splitPieceHashes(string(piecesBytes))
	if err != nil {
		return Info{}, err
	}

	return Info{
		Name:         c.Name,
		PieceLength:  c.PieceLength,
		Pieces:       pieces,
		TotalLength:  c.TotalLength,
		Files:        c.Files,
		InfoHash:     infoHash,
		Announce:     c.Announce,
		AnnounceList: c.AnnounceList,
	}, nil
}
