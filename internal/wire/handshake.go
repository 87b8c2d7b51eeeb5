// Package wire implements the peer wire stream: the 68-byte handshake
// frame and the length-prefixed message frames that follow it, the way
// the teacher's message and peer packages did, generalized to cover
// keep-alives, the extension bit, and a bounded-retry reader instead of
// a single io.ReadFull per call.
package wire

import (
	"bytes"
	"fmt"
	"io"

	"bitswarm/internal/errs"
)

const protocolID = "BitTorrent protocol"

// extensionBit marks reserved byte 5 (0-indexed), bit 0x10, which BEP 10
// uses to advertise extension-protocol support (spec.md 4.2: "8 reserved
// bytes with bit 20 set").
const extensionReservedByte = 5
const extensionBit = 0x10

// Handshake is the fixed 68-byte frame exchanged before any other
// message. Reserved carries the 8 reserved bytes verbatim so callers can
// test individual capability bits without this package hardcoding all of
// them.
type Handshake struct {
	Pstr     string
	Reserved [8]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

// NewHandshake builds a handshake advertising the extension protocol.
func NewHandshake(infoHash, peerID [20]byte) Handshake {
	h := Handshake{Pstr: protocolID, InfoHash: infoHash, PeerID: peerID}
	h.Reserved[extensionReservedByte] = extensionBit
	return h
}

// SupportsExtensions reports whether the reserved bytes advertise BEP 10.
func (h Handshake) SupportsExtensions() bool {
	return h.Reserved[extensionReservedByte]&extensionBit != 0
}

// Serialize writes the handshake in its raw, non-length-prefixed shape:
// pstrlen, pstr, reserved, info hash, peer id.
func (h Handshake) Serialize() []byte {
	buf := make([]byte, 49+len(h.Pstr))
	buf[0] = byte(len(h.Pstr))
	cursor := 1
	cursor += copy(buf[cursor:], h.Pstr)
	cursor += copy(buf[cursor:], h.Reserved[:])
	cursor += copy(buf[cursor:], h.InfoHash[:])
	copy(buf[cursor:], h.PeerID[:])
	return buf
}

// ReadHandshake reads exactly one handshake frame from r. Callers that
// need to distinguish a handshake from a regular message frame should
// peek the first byte first; 0x13 (19, the length of protocolID) is the
// handshake's signature per spec.md 4.2.
func ReadHandshake(r io.Reader) (Handshake, error) {
	var lenBuf [1]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Handshake{}, fmt.Errorf("wire: reading pstrlen: %w", err)
	}
	pstrlen := int(lenBuf[0])
	rest := make([]byte, pstrlen+48)
	if _, err := io.ReadFull(r, rest); err != nil {
		return Handshake{}, fmt.Errorf("wire: %w", errs.ErrShortHandshake)
	}
	var h Handshake
	h.Pstr = string(rest[:pstrlen])
	cursor := pstrlen
	copy(h.Reserved[:], rest[cursor:cursor+8])
	cursor += 8
	copy(h.InfoHash[:], rest[cursor:cursor+20])
	cursor += 20
	copy(h.PeerID[:], rest[cursor:cursor+20])
	return h, nil
}

// CheckInfoHash verifies a peer's handshake echoes the info hash we
// dialed with (spec.md 4.4: "Abort if the returned info hash != ours").
func CheckInfoHash(h Handshake, want [20]byte) error {
	if !bytes.Equal(h.InfoHash[:], want[:]) {
		return fmt.Errorf("wire: got %x, want %x: %w", h.InfoHash, want, errs.ErrInfoHashMismatch)
	}
	return nil
}
