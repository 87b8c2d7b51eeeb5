// Package peerid generates the local client's 20-byte peer id, replacing
// the teacher's fixed generatePeerID (main.go, "-GO0001-123456789012") with
// a per-process random suffix so multiple concurrent clients never collide
// on the same tracker.
package peerid

import (
	"github.com/google/uuid"
)

// clientPrefix is the Azureus-style client identifier (spec.md's peer id
// is opaque to the protocol; the prefix just advertises client identity
// the way the teacher's fixed "-GO0001-" did).
const clientPrefix = "-BS0001-"

// New returns a fresh 20-byte peer id: the Azureus-style client prefix
// followed by 12 random bytes drawn from a UUIDv4, matching the 20-byte
// length every BitTorrent peer id must have.
func New() [20]byte {
	var id [20]byte
	copy(id[:], clientPrefix)
	u := uuid.New()
	copy(id[len(clientPrefix):], u[:])
	return id
}
