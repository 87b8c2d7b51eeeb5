package torrentfile

import (
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// Magnet is what a magnet URI yields before the info dictionary itself
// has been fetched from a peer (spec.md 6): just enough to dial peers
// and verify the eventual info dictionary's hash.
type Magnet struct {
	InfoHash     [20]byte
	DisplayName  string
	AnnounceList []string
}

const btihPrefix = "urn:btih:"

// ParseMagnet parses a `magnet:?xt=urn:btih:<hex40|base32>&...` URI
// (spec.md 6), grounded on
// other_examples/e4d8d8aa_Kaykos-codecrafters-bittorrent-go's
// parseMagnetLink (query-parse after the "magnet:?" prefix, then strip
// "urn:btih:"), extended to accept the 32-character base32 info-hash
// form magnet links also use.
func ParseMagnet(link string) (Magnet, error) {
	const prefix = "magnet:?"
	if !strings.HasPrefix(link, prefix) {
		return Magnet{}, fmt.Errorf("torrentfile: not a magnet URI")
	}
	values, err := url.ParseQuery(link[len(prefix):])
	if err != nil {
		return Magnet{}, fmt.Errorf("torrentfile: parsing magnet query: %w", err)
	}

	xt := values.Get("xt")
	if !strings.HasPrefix(xt, btihPrefix) {
		return Magnet{}, fmt.Errorf("torrentfile: magnet missing urn:btih xt parameter")
	}
	hashPart := xt[len(btihPrefix):]

	infoHash, err := decodeBTIH(hashPart)
	if err != nil {
		return Magnet{}, err
	}

	m := Magnet{
		InfoHash:    infoHash,
		DisplayName: values.Get("dn"),
	}
	for _, tr := range values["tr"] {
		if tr != "" {
			m.AnnounceList = append(m.AnnounceList, tr)
		}
	}
	return m, nil
}

// decodeBTIH accepts either the 40-character hex or 32-character base32
// encodings BEP 9 allows for a BTIH. Base32 is decoded with stdlib
// encoding/base32 directly: no pack example implements this branch, and
// it is a pure data transform with no domain logic to ground further.
func decodeBTIH(s string) ([20]byte, error) {
	var hash [20]byte
	switch len(s) {
	case 40:
		b, err := hex.DecodeString(s)
		if err != nil {
			return hash, fmt.Errorf("torrentfile: decoding hex info hash: %w", err)
		}
		copy(hash[:], b)
		return hash, nil
	case 32:
		b, err := base32.StdEncoding.DecodeString(strings.ToUpper(s))
		if err != nil {
			return hash, fmt.Errorf("torrentfile: decoding base32 info hash: %w", err)
		}
		copy(hash[:], b)
		return hash, nil
	default:
		return hash, fmt.Errorf("torrentfile: info hash %q has unexpected length %d", s, len(s))
	}
}
