package peer

import (
	"fmt"

	"bitswarm/internal/bencode"
	"bitswarm/internal/errs"
	"bitswarm/internal/wire"
)

// extHandshakeID is the reserved extended-message id for the extension
// handshake itself (BEP 10); any other id in an id-20 message's first
// byte names a previously negotiated sub-extension.
const extHandshakeID = 0

// localUTMetadataID is the id the core assigns itself for ut_metadata in
// its own extension handshake (spec.md 4.3: "advertising ut_metadata
// with local id 1").
const localUTMetadataID = 1

const (
	metadataMsgRequest = 0
	metadataMsgData    = 1
	metadataMsgReject  = 2
)

// buildExtensionHandshake serializes our outbound extension handshake:
// an id-20 message whose payload is the reserved sub-id 0 followed by a
// bencoded dict advertising ut_metadata. metadata_size's value does not
// matter for a requester (spec.md 4.3), so 0 is sent.
func buildExtensionHandshake() *wire.Message {
	dict := bencode.Value{Kind: bencode.KindDict, Dict: map[string]bencode.Value{
		"m": {Kind: bencode.KindDict, Dict: map[string]bencode.Value{
			"ut_metadata": bencode.Int(localUTMetadataID),
		}},
		"metadata_size": bencode.Int(0),
	}}
	payload := append([]byte{extHandshakeID}, bencode.Encode(dict)...)
	return &wire.Message{ID: wire.Extended, Payload: payload}
}

// extensionState is what the session learns from a peer's own extension
// handshake: the id it assigned to ut_metadata and the info dict's size.
type extensionState struct {
	utMetadataID uint8
	metadataSize int
}

// parseExtended dispatches an inbound id-20 message. A handshake (first
// byte 0) updates ext in place; any other sub-id is read as a ut_metadata
// message: a data piece is returned as (pieceIndex, data, true), a reject
// is returned as an error, and any other msg_type is ignored.
func parseExtended(msg *wire.Message, ext *extensionState) (pieceIndex int, data []byte, isData bool, err error) {
	if msg.ID != wire.Extended {
		return 0, nil, false, fmt.Errorf("peer: expected extended message, got id %d", msg.ID)
	}
	if len(msg.Payload) < 1 {
		return 0, nil, false, fmt.Errorf("peer: empty extended payload")
	}
	subID := msg.Payload[0]
	body := msg.Payload[1:]

	if subID == extHandshakeID {
		v, _, err := bencode.Decode(body)
		if err != nil {
			return 0, nil, false, fmt.Errorf("peer: decoding extension handshake: %w", err)
		}
		if mDict, ok := v.Get("m"); ok {
			if idVal, ok := mDict.Get("ut_metadata"); ok {
				ext.utMetadataID = uint8(idVal.Int)
			}
		}
		if sizeVal, ok := v.Get("metadata_size"); ok {
			ext.metadataSize = int(sizeVal.Int)
		}
		return 0, nil, false, nil
	}

	// A sub-extension message we sent ut_metadata requests to: decode
	// the bencoded header, then the trailing raw bytes (if any) are
	// the data piece payload.
	headerRaw, n, err := bencode.RawValue(body)
	if err != nil {
		return 0, nil, false, fmt.Errorf("peer: decoding metadata message header: %w", err)
	}
	header, _, err := bencode.Decode(headerRaw)
	if err != nil {
		return 0, nil, false, err
	}
	msgTypeVal, ok := header.Get("msg_type")
	if !ok {
		return 0, nil, false, fmt.Errorf("peer: metadata message missing msg_type")
	}
	switch msgTypeVal.Int {
	case metadataMsgData:
		pieceVal, ok := header.Get("piece")
		if !ok {
			return 0, nil, false, fmt.Errorf("peer: metadata data message missing piece")
		}
		return int(pieceVal.Int), body[n:], true, nil
	case metadataMsgReject:
		return 0, nil, false, fmt.Errorf("peer: metadata piece rejected")
	default:
		return 0, nil, false, nil
	}
}

// requestMetadataPiece builds an id-20 request for the n-th 16 KiB chunk
// of the peer's info dictionary, addressed to the peer's own id for
// ut_metadata.
func requestMetadataPiece(ext extensionState, n int) (*wire.Message, error) {
	if ext.utMetadataID == 0 {
		return nil, fmt.Errorf("peer: %w", errs.ErrNoMetadataExt)
	}
	dict := bencode.Value{Kind: bencode.KindDict, Dict: map[string]bencode.Value{
		"msg_type": bencode.Int(metadataMsgRequest),
		"piece":    bencode.Int(int64(n)),
	}}
	payload := append([]byte{ext.utMetadataID}, bencode.Encode(dict)...)
	return &wire.Message{ID: wire.Extended, Payload: payload}, nil
}
