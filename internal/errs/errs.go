// Package errs collects the sentinel errors that cross component
// boundaries, so callers can classify a failure with errors.Is instead of
// string matching.
package errs

import "errors"

// Codec errors.
var (
	ErrMalformedInt      = errors.New("bencode: malformed integer")
	ErrBadLengthPrefix   = errors.New("bencode: bad string length prefix")
	ErrMissingTerminator = errors.New("bencode: missing terminator")
	ErrNonStringKey      = errors.New("bencode: non-string dictionary key")
	ErrUnexpectedByte    = errors.New("bencode: unexpected byte")
)

// Stream / handshake errors.
var (
	ErrConnectTimeout   = errors.New("peer: connect timeout")
	ErrShortHandshake   = errors.New("peer: short handshake")
	ErrInfoHashMismatch = errors.New("peer: info hash mismatch on handshake")
)

// Protocol errors.
var (
	ErrNeverUnchoked = errors.New("peer: never left choked state")
	ErrNoMetadataExt = errors.New("peer: never advertised ut_metadata")
)

// Download errors.
var (
	ErrChokedPeer        = errors.New("download: peer choked mid-download")
	ErrIdle              = errors.New("download: no progress within threshold")
	ErrPieceVerification = errors.New("download: piece failed hash verification")
)

// Tracker errors.
var (
	ErrTrackerHTTPStatus = errors.New("tracker: non-2xx response")
	ErrTrackerTimeout    = errors.New("tracker: timed out")
	ErrTrackerNoConnect  = errors.New("tracker: no connect reply within retries")
	ErrTrackerMalformed  = errors.New("tracker: malformed announce reply")
)
