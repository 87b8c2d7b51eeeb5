package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// ID identifies a peer wire message per spec.md 4.2.
type ID uint8

const (
	Choke         ID = 0
	Unchoke       ID = 1
	Interested    ID = 2
	NotInterested ID = 3
	Have          ID = 4
	Bitfield      ID = 5
	Request       ID = 6
	Piece         ID = 7
	Cancel        ID = 8
	Port          ID = 9
	Extended      ID = 20
)

// Message is a parsed length-prefixed frame. A keep-alive decodes as a
// nil *Message, matching the teacher's ReadMessage convention.
type Message struct {
	ID      ID
	Payload []byte
}

// Serialize renders m as length||id||payload. A nil *Message serializes
// to a 4-byte zero length, i.e. a keep-alive.
func (m *Message) Serialize() []byte {
	if m == nil {
		return make([]byte, 4)
	}
	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

// ErrIdleRead is returned by ReadFrame when the bounded retry budget is
// exhausted without a full frame arriving (spec.md 4.2: "surfacing as
// idle" on repeated partial reads).
var ErrIdleRead = errors.New("wire: idle, no frame within retry budget")

// maxFrameRetries bounds ReadFrame's partial-read retry loop (spec.md
// 4.2: "up to ~40 attempts with short backoff").
const maxFrameRetries = 40

const frameRetryBackoff = 5 * time.Millisecond

// ReadFrame reads one length-prefixed message frame from r, retrying a
// partial read of the length prefix or of the body up to
// maxFrameRetries times with a short
// backoff before giving up with ErrIdleRead. A length of 0 is a
// keep-alive and decodes to a nil Message. Any error other than
// ErrIdleRead is fatal to the underlying connection.
func ReadFrame(r io.Reader) (*Message, error) {
	lenBuf, err := readFullRetrying(r, 4)
	if err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf)
	if length == 0 {
		return nil, nil
	}
	body, err := readFullRetrying(r, int(length))
	if err != nil {
		return nil, err
	}
	return &Message{ID: ID(body[0]), Payload: body[1:]}, nil
}

func readFullRetrying(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	var attempts int
	var read int
	for read < n {
		m, err := r.Read(buf[read:])
		read += m
		if read == n {
			return buf, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, err
			}
			var netTimeout interface{ Timeout() bool }
			if !errors.As(err, &netTimeout) || !netTimeout.Timeout() {
				return nil, err
			}
			// A timeout with nothing read yet means no frame has
			// started arriving: surface idle immediately rather than
			// burning the retry budget waiting for one. The bounded
			// retry (spec.md 4.2, "~40 attempts with short backoff")
			// applies only to finishing a frame already in flight.
			if read == 0 {
				return nil, ErrIdleRead
			}
		}
		attempts++
		if attempts >= maxFrameRetries {
			return nil, ErrIdleRead
		}
		time.Sleep(frameRetryBackoff)
	}
	return buf, nil
}

// WriteMessage writes m's serialized form to w, erroring on a short
// write (spec.md 4.2: "Writes are all-or-nothing; a short write is an
// error").
func WriteMessage(w io.Writer, m *Message) error {
	buf := m.Serialize()
	n, err := w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("wire: short write: wrote %d of %d bytes", n, len(buf))
	}
	return nil
}

// RequestMessage builds a request message (outbound id 6).
func RequestMessage(index, begin, length int) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return &Message{ID: Request, Payload: payload}
}

// HaveMessage builds a have message (id 4).
func HaveMessage(index int) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))
	return &Message{ID: Have, Payload: payload}
}

// ParsePiece copies a piece message's (inbound id 7) data into buf at
// its declared offset, returning the number of bytes copied. index is
// the piece index the caller expects; a mismatch is an error.
func ParsePiece(index int, buf []byte, msg *Message) (int, error) {
	if msg.ID != Piece {
		return 0, fmt.Errorf("wire: expected piece message, got id %d", msg.ID)
	}
	if len(msg.Payload) < 8 {
		return 0, fmt.Errorf("wire: piece payload too short: %d bytes", len(msg.Payload))
	}
	gotIndex := int(binary.BigEndian.Uint32(msg.Payload[0:4]))
	if gotIndex != index {
		return 0, fmt.Errorf("wire: piece for index %d, want %d", gotIndex, index)
	}
	begin := int(binary.BigEndian.Uint32(msg.Payload[4:8]))
	if begin >= len(buf) {
		return 0, fmt.Errorf("wire: begin %d exceeds buffer length %d", begin, len(buf))
	}
	data := msg.Payload[8:]
	if begin+len(data) > len(buf) {
		return 0, fmt.Errorf("wire: data length %d at offset %d exceeds buffer length %d", len(data), begin, len(buf))
	}
	copy(buf[begin:], data)
	return len(data), nil
}

// DecodePiece extracts a piece message's (inbound id 7) index, block
// offset, and data without copying into a caller-owned buffer, for
// callers that want to index chunks by block number rather than by byte
// offset into a preassembled piece.
func DecodePiece(msg *Message) (index, begin int, data []byte, err error) {
	if msg.ID != Piece {
		return 0, 0, nil, fmt.Errorf("wire: expected piece message, got id %d", msg.ID)
	}
	if len(msg.Payload) < 8 {
		return 0, 0, nil, fmt.Errorf("wire: piece payload too short: %d bytes", len(msg.Payload))
	}
	index = int(binary.BigEndian.Uint32(msg.Payload[0:4]))
	begin = int(binary.BigEndian.Uint32(msg.Payload[4:8]))
	return index, begin, msg.Payload[8:], nil
}

// ParseHave extracts the piece index from a have message (id 4).
func ParseHave(msg *Message) (int, error) {
	if msg.ID != Have {
		return 0, fmt.Errorf("wire: expected have message, got id %d", msg.ID)
	}
	if len(msg.Payload) != 4 {
		return 0, fmt.Errorf("wire: have payload length %d, want 4", len(msg.Payload))
	}
	return int(binary.BigEndian.Uint32(msg.Payload)), nil
}
