// Package peer drives one peer wire connection through the states
// spec.md 4.4 names: Opening, Handshaking, Extension-negotiating, Ready,
// Downloading, Closed. It generalizes the teacher's peer.Client (a
// single-shot dial-handshake-bitfield constructor) into a long-lived
// session a caller advances explicitly, so the same connection can serve
// both the metadata assembler and the block assembler.
package peer

import (
	"context"
	"fmt"
	"net"
	"time"

	"bitswarm/internal/bitfield"
	"bitswarm/internal/config"
	"bitswarm/internal/errs"
	"bitswarm/internal/logging"
	"bitswarm/internal/wire"
)

// State names a point in the session state machine.
type State int

const (
	Opening State = iota
	Handshaking
	ExtensionNegotiating
	Ready
	Downloading
	Closed
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Handshaking:
		return "handshaking"
	case ExtensionNegotiating:
		return "extension-negotiating"
	case Ready:
		return "ready"
	case Downloading:
		return "downloading"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Addr is a peer's dialable address, the way the teacher's peer.Peer
// packed a compact (IP, port) pair from a tracker reply.
type Addr struct {
	IP   net.IP
	Port uint16
}

func (a Addr) String() string {
	return net.JoinHostPort(a.IP.String(), fmt.Sprintf("%d", a.Port))
}

// Session is one peer wire connection and everything learned about the
// remote side during negotiation.
type Session struct {
	conn   net.Conn
	addr   Addr
	state  State
	active bool
	choked bool

	infoHash [20]byte
	peerID   [20]byte
	remoteID [20]byte

	Bitfield      bitfield.Bitfield
	bitfieldKnown bool
	ext           extensionState

	cfg config.Config
	log *logDriver
}

type logDriver struct{ addr string }

func (l *logDriver) logf(format string, args ...any) {
	logging.For("peer").Printf("[%s] "+format, append([]any{l.addr}, args...)...)
}

// Open dials addr, exchanges handshakes, and returns a Session parked in
// the Handshaking state. Callers must call Negotiate before using the
// session for downloads (spec.md 4.4: Opening -> Handshaking).
func Open(ctx context.Context, addr Addr, infoHash, localPeerID [20]byte, cfg config.Config) (*Session, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("peer: dial %s: %w", addr, errs.ErrConnectTimeout)
	}

	s := &Session{
		conn:     conn,
		addr:     addr,
		state:    Opening,
		choked:   true,
		infoHash: infoHash,
		peerID:   localPeerID,
		cfg:      cfg,
		log:      &logDriver{addr: addr.String()},
	}

	if err := s.handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	s.state = Handshaking
	return s, nil
}

func (s *Session) handshake() error {
	s.conn.SetDeadline(time.Now().Add(3 * time.Second))
	defer s.conn.SetDeadline(time.Time{})

	out := wire.NewHandshake(s.infoHash, s.peerID)
	if _, err := s.conn.Write(out.Serialize()); err != nil {
		return fmt.Errorf("peer: writing handshake: %w", err)
	}

	in, err := wire.ReadHandshake(s.conn)
	if err != nil {
		return err
	}
	if err := wire.CheckInfoHash(in, s.infoHash); err != nil {
		return err
	}
	s.remoteID = in.PeerID
	return nil
}

// Negotiate advances Handshaking -> Extension-negotiating -> Ready: it
// sends interested and our extension handshake, then makes up to
// cfg.HandshakePollRounds reads (an idle read or keep-alive uses up a
// round too), applying unchoke, bitfield, and extension-handshake
// updates (spec.md 4.4).
func (s *Session) Negotiate(numPieces int) error {
	s.state = ExtensionNegotiating
	s.active = true

	interested := &wire.Message{ID: wire.Interested}
	if err := wire.WriteMessage(s.conn, interested); err != nil {
		return fmt.Errorf("peer: sending interested: %w", err)
	}
	if err := wire.WriteMessage(s.conn, buildExtensionHandshake()); err != nil {
		return fmt.Errorf("peer: sending extension handshake: %w", err)
	}

	if numPieces > 0 {
		s.Bitfield = bitfield.New(numPieces)
	}

	for round := 0; round < s.cfg.HandshakePollRounds; round++ {
		s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadDeadline))
		msg, err := wire.ReadFrame(s.conn)
		if err != nil {
			if err == wire.ErrIdleRead {
				continue
			}
			return err
		}
		if msg == nil {
			continue
		}
		if err := s.applyNegotiationMessage(msg); err != nil {
			s.log.logf("negotiation message ignored: %v", err)
		}
		if !s.choked && s.ext.metadataSize > 0 {
			s.conn.SetReadDeadline(time.Time{})
			s.state = Ready
			return nil
		}
	}
	s.conn.SetReadDeadline(time.Time{})

	return fmt.Errorf("peer: negotiating with %s: %w", s.addr, errs.ErrNeverUnchoked)
}

func (s *Session) applyNegotiationMessage(msg *wire.Message) error {
	switch msg.ID {
	case wire.Unchoke:
		s.choked = false
	case wire.Choke:
		s.choked = true
	case wire.Bitfield:
		s.Bitfield = append(bitfield.Bitfield(nil), msg.Payload...)
		s.bitfieldKnown = true
	case wire.Have:
		index, err := wire.ParseHave(msg)
		if err != nil {
			return err
		}
		if s.Bitfield != nil {
			s.Bitfield.SetPiece(index)
			s.bitfieldKnown = true
		}
	case wire.Extended:
		if _, _, _, err := parseExtended(msg, &s.ext); err != nil {
			return err
		}
	}
	return nil
}

// Ready reports whether the session has reached the Ready state
// (spec.md 4.4: "choked = false and metadata_size > 0").
func (s *Session) Ready() bool {
	return s.state == Ready || s.state == Downloading
}

// Choked reports the current choke state.
func (s *Session) Choked() bool { return s.choked }

// HasBitfield reports whether the peer has sent a genuine bitfield or
// have message, as opposed to Negotiate's zero-initialized placeholder
// that carries no information about what the peer actually holds.
func (s *Session) HasBitfield() bool { return s.bitfieldKnown }

// MetadataSize returns the peer-advertised info dictionary size, or 0 if
// unknown.
func (s *Session) MetadataSize() int { return s.ext.metadataSize }

// HasUTMetadata reports whether the peer advertised ut_metadata support.
func (s *Session) HasUTMetadata() bool { return s.ext.utMetadataID != 0 }

// Addr returns the session's peer address.
func (s *Session) Addr() Addr { return s.addr }

// State returns the session's current state.
func (s *Session) State() State { return s.state }

// BeginDownload transitions Ready -> Downloading (spec.md 4.4).
func (s *Session) BeginDownload() {
	s.state = Downloading
}

// Close transitions to Closed and releases the underlying connection.
// Closed sessions are discarded; the caller may re-open (spec.md 4.4).
func (s *Session) Close() error {
	s.state = Closed
	return s.conn.Close()
}

// ReadFrame reads one message with the session's configured read
// deadline, used by the download assemblers during the Downloading
// state.
func (s *Session) ReadFrame() (*wire.Message, error) {
	s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadDeadline))
	return wire.ReadFrame(s.conn)
}

// Write sends a raw message frame.
func (s *Session) Write(msg *wire.Message) error {
	return wire.WriteMessage(s.conn, msg)
}

// RequestBlock sends a block request (outbound id 6).
func (s *Session) RequestBlock(index, begin, length int) error {
	return s.Write(wire.RequestMessage(index, begin, length))
}

// RequestMetadataPiece sends a ut_metadata request for chunk n.
func (s *Session) RequestMetadataPiece(n int) error {
	msg, err := requestMetadataPiece(s.ext, n)
	if err != nil {
		return err
	}
	return s.Write(msg)
}

// ChunkKind classifies what NextChunk read off the wire.
type ChunkKind int

const (
	// ChunkNone is a keep-alive or a message that carried no chunk
	// data (choke/unchoke/have/bitfield were still applied to session
	// state as a side effect).
	ChunkNone ChunkKind = iota
	ChunkBlock
	ChunkMetadata
)

// NextChunk reads one frame with the session's read deadline, applies
// any session-state side effects (choke, unchoke, have, bitfield), and classifies
// the result for the download assembler: a block piece's (pieceIndex,
// blockOffset, data), a metadata data piece's (pieceIndex, data), or
// neither. wire.ErrIdleRead and a keep-alive both surface as (ChunkNone,
// nil error) so the assembler's idle counter is the only place that
// tracks lack of progress.
func (s *Session) NextChunk() (kind ChunkKind, index int, begin int, data []byte, err error) {
	msg, err := s.ReadFrame()
	if err != nil {
		if err == wire.ErrIdleRead {
			return ChunkNone, 0, 0, nil, nil
		}
		return ChunkNone, 0, 0, nil, err
	}
	if msg == nil {
		return ChunkNone, 0, 0, nil, nil
	}

	switch msg.ID {
	case wire.Choke:
		s.choked = true
		return ChunkNone, 0, 0, nil, errs.ErrChokedPeer
	case wire.Unchoke:
		s.choked = false
	case wire.Bitfield:
		s.Bitfield = append(bitfield.Bitfield(nil), msg.Payload...)
		s.bitfieldKnown = true
	case wire.Have:
		idx, perr := wire.ParseHave(msg)
		if perr == nil && s.Bitfield != nil {
			s.Bitfield.SetPiece(idx)
			s.bitfieldKnown = true
		}
	case wire.Piece:
		pieceIndex, blockBegin, blockData, perr := wire.DecodePiece(msg)
		if perr != nil {
			return ChunkNone, 0, 0, nil, perr
		}
		return ChunkBlock, pieceIndex, blockBegin, blockData, nil
	case wire.Extended:
		metaIdx, metaData, isData, perr := parseExtended(msg, &s.ext)
		if perr != nil {
			return ChunkNone, 0, 0, nil, perr
		}
		if isData {
			return ChunkMetadata, metaIdx, 0, metaData, nil
		}
	}
	return ChunkNone, 0, 0, nil, nil
}

// ApplyDownloadMessage updates session-level state (choke, bitfield,
// have) from a message observed mid-download and classifies it as a
// block piece, a metadata data piece, or neither.
//
// Return values: blockN is the number of bytes a piece message copied
// into blockBuf; metaIdx/metaData are set for an extended data-piece
// message.
func (s *Session) ApplyDownloadMessage(msg *wire.Message, blockBuf []byte, blockIndex int) (blockN int, metaIdx int, metaData []byte, err error) {
	switch msg.ID {
	case wire.Choke:
		s.choked = true
		return 0, 0, nil, errs.ErrChokedPeer
	case wire.Unchoke:
		s.choked = false
	case wire.Bitfield:
		s.Bitfield = append(bitfield.Bitfield(nil), msg.Payload...)
		s.bitfieldKnown = true
	case wire.Have:
		index, perr := wire.ParseHave(msg)
		if perr == nil && s.Bitfield != nil {
			s.Bitfield.SetPiece(index)
			s.bitfieldKnown = true
		}
	case wire.Piece:
		n, perr := wire.ParsePiece(blockIndex, blockBuf, msg)
		if perr != nil {
			return 0, 0, nil, perr
		}
		return n, 0, nil, nil
	case wire.Extended:
		idx, data, isData, perr := parseExtended(msg, &s.ext)
		if perr != nil {
			return 0, 0, nil, perr
		}
		if isData {
			return 0, idx, data, nil
		}
	}
	return 0, 0, nil, nil
}
