package peer

import (
	"net"

	"bitswarm/internal/config"
)

// NewTestSession builds a Session already parked in the Ready state over
// an existing connection, for use by other packages' tests that need a
// negotiated session without driving a real handshake (the peer
// package's own tests cover Open and Negotiate directly).
func NewTestSession(conn net.Conn, cfg config.Config, utMetadataID uint8, metadataSize int) (*Session, error) {
	s := &Session{
		conn:   conn,
		state:  Ready,
		choked: false,
		cfg:    cfg,
		log:    &logDriver{addr: "test"},
		ext:    extensionState{utMetadataID: utMetadataID, metadataSize: metadataSize},
	}
	return s, nil
}
