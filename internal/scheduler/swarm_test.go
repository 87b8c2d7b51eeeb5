package scheduler

import (
	"context"
	"crypto/sha1"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bitswarm/internal/config"
	"bitswarm/internal/errs"
	"bitswarm/internal/peer"
	"bitswarm/internal/torrentfile"
	"bitswarm/internal/wire"
)

func TestVerifyPiece(t *testing.T) {
	data := []byte("hello-piece-bytes")
	info := torrentfile.Info{Pieces: [][20]byte{sha1.Sum(data)}}
	if err := verifyPiece(info, 0, data); err != nil {
		t.Fatalf("expected matching piece to verify, got %v", err)
	}
	if err := verifyPiece(info, 0, []byte("wrong")); !errors.Is(err, errs.ErrPieceVerification) {
		t.Fatalf("verifyPiece error = %v, want errs.ErrPieceVerification", err)
	}
	if err := verifyPiece(info, 5, data); !errors.Is(err, errs.ErrPieceVerification) {
		t.Fatalf("verifyPiece error = %v, want errs.ErrPieceVerification", err)
	}
}

// serveOnePeer emulates a single remote peer over a real TCP listener:
// handshake, an extension handshake + unchoke, then one block request
// answered with pieceData.
func serveOnePeer(t *testing.T, ln net.Listener, infoHash [20]byte, pieceData []byte) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	in, err := wire.ReadHandshake(conn)
	if err != nil {
		t.Errorf("server: ReadHandshake: %v", err)
		return
	}
	if in.InfoHash != infoHash {
		t.Errorf("server: info hash mismatch")
		return
	}
	out := wire.NewHandshake(infoHash, [20]byte{'s', 'e', 'r', 'v'})
	if _, err := conn.Write(out.Serialize()); err != nil {
		t.Errorf("server: writing handshake: %v", err)
		return
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	// interested
	if _, err := wire.ReadFrame(conn); err != nil {
		t.Errorf("server: reading interested: %v", err)
		return
	}
	// our extension handshake
	if _, err := wire.ReadFrame(conn); err != nil {
		t.Errorf("server: reading extension handshake: %v", err)
		return
	}
	if err := wire.WriteMessage(conn, &wire.Message{ID: wire.Unchoke}); err != nil {
		t.Errorf("server: writing unchoke: %v", err)
		return
	}
	extHandshake := append([]byte{0}, []byte("d1:md11:ut_metadatai1ee13:metadata_sizei8ee")...)
	if err := wire.WriteMessage(conn, &wire.Message{ID: wire.Extended, Payload: extHandshake}); err != nil {
		t.Errorf("server: writing extension handshake: %v", err)
		return
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	req, err := wire.ReadFrame(conn)
	if err != nil || req == nil || req.ID != wire.Request {
		t.Errorf("server: expected a request message, got %+v, err=%v", req, err)
		return
	}

	payload := make([]byte, 8+len(pieceData))
	copy(payload[8:], pieceData)
	if err := wire.WriteMessage(conn, &wire.Message{ID: wire.Piece, Payload: payload}); err != nil {
		t.Errorf("server: writing piece: %v", err)
		return
	}

	time.Sleep(50 * time.Millisecond)
}

func TestSwarmRunDownloadsAndWritesOnePiece(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer ln.Close()

	pieceData := []byte("12345678")
	var infoHash [20]byte
	copy(infoHash[:], "info-hash-for-test-1")

	go serveOnePeer(t, ln, infoHash, pieceData)

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Workers = 1
	cfg.ReadDeadline = 30 * time.Millisecond
	cfg.HandshakePollRounds = 5
	cfg.IdleRounds = 20
	cfg.DownloadRoot = dir

	info := torrentfile.Info{
		Name:        "out.bin",
		PieceLength: len(pieceData),
		TotalLength: int64(len(pieceData)),
		Pieces:      [][20]byte{sha1.Sum(pieceData)},
		Files:       []torrentfile.FileEntry{{Path: "out.bin", Length: int64(len(pieceData))}},
		InfoHash:    infoHash,
	}

	tcpAddr := ln.Addr().(*net.TCPAddr)
	addr := peer.Addr{IP: tcpAddr.IP, Port: uint16(tcpAddr.Port)}

	var localPeerID [20]byte
	copy(localPeerID[:], "local-peer-id-testtt")

	sw := New(info, cfg, localPeerID)

	endpoints := make(chan peer.Addr, 1)
	endpoints <- addr
	close(endpoints)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sw.Run(ctx, endpoints); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "out.bin"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(pieceData) {
		t.Fatalf("got %q, want %q", got, pieceData)
	}
}
