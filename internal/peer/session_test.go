package peer

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"bitswarm/internal/bencode"
	"bitswarm/internal/config"
	"bitswarm/internal/errs"
	"bitswarm/internal/wire"
)

func fixedHash(b byte) [20]byte {
	var h [20]byte
	for i := range h {
		h[i] = b
	}
	return h
}

// pipeSession wires a Session to one end of a net.Pipe, with the other
// end driven by the test as a fake remote peer.
func pipeSession(t *testing.T, infoHash [20]byte) (*Session, net.Conn) {
	t.Helper()
	client, remote := net.Pipe()
	cfg := config.Default()
	cfg.HandshakePollRounds = 5
	cfg.ReadDeadline = 50 * time.Millisecond
	s := &Session{
		conn:     client,
		state:    Handshaking,
		choked:   true,
		infoHash: infoHash,
		peerID:   fixedHash(0x11),
		cfg:      cfg,
		log:      &logDriver{addr: "test"},
	}
	return s, remote
}

func TestNegotiateReachesReady(t *testing.T) {
	infoHash := fixedHash(0xaa)
	s, remote := pipeSession(t, infoHash)
	defer remote.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// consume interested
		wire.ReadFrame(remote)
		// consume our extension handshake
		wire.ReadFrame(remote)

		wire.WriteMessage(remote, &wire.Message{ID: wire.Unchoke})

		dict := bencode.Value{Kind: bencode.KindDict, Dict: map[string]bencode.Value{
			"m": {Kind: bencode.KindDict, Dict: map[string]bencode.Value{
				"ut_metadata": bencode.Int(3),
			}},
			"metadata_size": bencode.Int(1024),
		}}
		payload := append([]byte{0}, bencode.Encode(dict)...)
		wire.WriteMessage(remote, &wire.Message{ID: wire.Extended, Payload: payload})
	}()

	if err := s.Negotiate(0); err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	<-done

	if !s.Ready() {
		t.Fatal("session should be Ready")
	}
	if s.Choked() {
		t.Fatal("session should be unchoked")
	}
	if s.MetadataSize() != 1024 {
		t.Fatalf("MetadataSize = %d, want 1024", s.MetadataSize())
	}
	if !s.HasUTMetadata() {
		t.Fatal("should have recorded ut_metadata id")
	}
	if s.HasBitfield() {
		t.Fatal("no bitfield or have message was sent, HasBitfield should be false")
	}
}

func TestNegotiateRecordsRealBitfield(t *testing.T) {
	infoHash := fixedHash(0xff)
	s, remote := pipeSession(t, infoHash)
	defer remote.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		wire.ReadFrame(remote)
		wire.ReadFrame(remote)

		wire.WriteMessage(remote, &wire.Message{ID: wire.Unchoke})
		wire.WriteMessage(remote, &wire.Message{ID: wire.Bitfield, Payload: []byte{0xff}})

		dict := bencode.Value{Kind: bencode.KindDict, Dict: map[string]bencode.Value{
			"m": {Kind: bencode.KindDict, Dict: map[string]bencode.Value{
				"ut_metadata": bencode.Int(1),
			}},
			"metadata_size": bencode.Int(10),
		}}
		payload := append([]byte{0}, bencode.Encode(dict)...)
		wire.WriteMessage(remote, &wire.Message{ID: wire.Extended, Payload: payload})
	}()

	if err := s.Negotiate(8); err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	<-done

	if !s.HasBitfield() {
		t.Fatal("expected HasBitfield to be true after a real bitfield message")
	}
	if !s.Bitfield.HasPiece(0) {
		t.Fatal("expected piece 0 to be marked available")
	}
}

func TestNegotiateNeverUnchokedFails(t *testing.T) {
	infoHash := fixedHash(0xee)
	s, remote := pipeSession(t, infoHash)
	defer remote.Close()
	defer s.conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// consume interested
		wire.ReadFrame(remote)
		// consume our extension handshake
		wire.ReadFrame(remote)
		// remote never unchokes and never sends metadata_size
	}()

	err := s.Negotiate(0)
	<-done
	if !errors.Is(err, errs.ErrNeverUnchoked) {
		t.Fatalf("Negotiate error = %v, want errs.ErrNeverUnchoked", err)
	}
	if s.Ready() {
		t.Fatal("session should not be Ready")
	}
}

func TestApplyDownloadMessageChokeIsFatal(t *testing.T) {
	infoHash := fixedHash(0xbb)
	s, remote := pipeSession(t, infoHash)
	defer remote.Close()

	_, _, _, err := s.ApplyDownloadMessage(&wire.Message{ID: wire.Choke}, nil, 0)
	if err == nil {
		t.Fatal("expected choke to surface as an error")
	}
	if !s.Choked() {
		t.Fatal("session should record choked state")
	}
}

func TestApplyDownloadMessagePieceCopiesData(t *testing.T) {
	infoHash := fixedHash(0xcc)
	s, remote := pipeSession(t, infoHash)
	defer remote.Close()

	buf := make([]byte, 16)
	payload := append([]byte{0, 0, 0, 2, 0, 0, 0, 0}, []byte("payload-data")...)
	n, _, _, err := s.ApplyDownloadMessage(&wire.Message{ID: wire.Piece, Payload: payload}, buf, 2)
	if err != nil {
		t.Fatalf("ApplyDownloadMessage: %v", err)
	}
	if n != len("payload-data") || !bytes.Equal(buf[:n], []byte("payload-data")) {
		t.Fatalf("copied %q", buf[:n])
	}
}

func TestRequestMetadataPieceRequiresNegotiatedID(t *testing.T) {
	infoHash := fixedHash(0xdd)
	s, remote := pipeSession(t, infoHash)
	defer remote.Close()
	defer s.conn.Close()

	if err := s.RequestMetadataPiece(0); err == nil {
		t.Fatal("expected error requesting metadata before negotiation")
	}
}
