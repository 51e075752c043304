// Package wire implements the peer-wire framing codec: the fixed-size
// handshake and the length-prefixed post-handshake message format. The
// codec is a pure function pair — it never touches a socket.
package wire

import (
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MessageID identifies a post-handshake message. The numbering here is the
// one this engine's closed peer set agrees on; note that it swaps
// BITFIELD and HAVE relative to the public BEP-3 assignment.
type MessageID uint8

const (
	Choke         MessageID = 0
	Unchoke       MessageID = 1
	Interested    MessageID = 2
	NotInterested MessageID = 3
	Bitfield      MessageID = 4
	Have          MessageID = 5
	Request       MessageID = 6
	Piece         MessageID = 7
	Cancel        MessageID = 8
	Port          MessageID = 9
)

func (mid MessageID) String() string {
	switch mid {
	case Choke:
		return "Choke"
	case Unchoke:
		return "Unchoke"
	case Interested:
		return "Interested"
	case NotInterested:
		return "NotInterested"
	case Bitfield:
		return "Bitfield"
	case Have:
		return "Have"
	case Request:
		return "Request"
	case Piece:
		return "Piece"
	case Cancel:
		return "Cancel"
	case Port:
		return "Port"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(mid))
	}
}

// Message is a single peer-wire message. A nil *Message denotes KEEP-ALIVE
// (len==0, no id, no payload).
type Message struct {
	ID      MessageID
	Payload []byte
}

var (
	ErrShortMessage    = errors.New("wire: short message")
	ErrBadLengthPrefix = errors.New("wire: invalid length prefix")
	ErrBadPayloadSize  = errors.New("wire: invalid payload size for message")
)

var (
	_ encoding.BinaryMarshaler   = (*Message)(nil)
	_ encoding.BinaryUnmarshaler = (*Message)(nil)
	_ io.WriterTo                = (*Message)(nil)
	_ io.ReaderFrom              = (*Message)(nil)
)

// IsKeepAlive reports whether m denotes a keep-alive frame.
func IsKeepAlive(m *Message) bool { return m == nil }

func MessageChoke() *Message         { return &Message{ID: Choke} }
func MessageUnchoke() *Message       { return &Message{ID: Unchoke} }
func MessageInterested() *Message    { return &Message{ID: Interested} }
func MessageNotInterested() *Message { return &Message{ID: NotInterested} }

func MessageHave(index uint32) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, index)

	return &Message{ID: Have, Payload: payload}
}

func MessageBitfield(bits []byte) *Message {
	cp := make([]byte, len(bits))
	copy(cp, bits)

	return &Message{ID: Bitfield, Payload: cp}
}

func MessageRequest(index, begin, length uint32) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	binary.BigEndian.PutUint32(payload[8:12], length)

	return &Message{ID: Request, Payload: payload}
}

func MessagePiece(index, begin uint32, block []byte) *Message {
	payload := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	copy(payload[8:], block)

	return &Message{ID: Piece, Payload: payload}
}

func MessageCancel(index, begin, length uint32) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	binary.BigEndian.PutUint32(payload[8:12], length)

	return &Message{ID: Cancel, Payload: payload}
}

func MessagePort(port uint16) *Message {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, port)

	return &Message{ID: Port, Payload: payload}
}

// ParseHave returns the piece index for a Have message. ok is false if the
// payload length is not exactly 4 bytes.
func (m *Message) ParseHave() (index uint32, ok bool) {
	if m == nil || m.ID != Have || len(m.Payload) != 4 {
		return 0, false
	}

	return binary.BigEndian.Uint32(m.Payload), true
}

// ParseRequest parses a Request (or Cancel) payload into index, begin, and
// length. ok is false if the payload length is not exactly 12 bytes.
func (m *Message) ParseRequest() (index, begin, length uint32, ok bool) {
	if m == nil || len(m.Payload) != 12 {
		return 0, 0, 0, false
	}

	return binary.BigEndian.Uint32(m.Payload[0:4]),
		binary.BigEndian.Uint32(m.Payload[4:8]),
		binary.BigEndian.Uint32(m.Payload[8:12]),
		true
}

// ParsePiece parses a Piece payload into index, begin, and the data block.
// ok is false if there are fewer than 8 bytes of header.
func (m *Message) ParsePiece() (index, begin uint32, block []byte, ok bool) {
	if m == nil || m.ID != Piece || len(m.Payload) < 8 {
		return 0, 0, nil, false
	}

	return binary.BigEndian.Uint32(m.Payload[0:4]),
		binary.BigEndian.Uint32(m.Payload[4:8]),
		m.Payload[8:], true
}

func (m *Message) MarshalBinary() ([]byte, error) {
	if m == nil {
		return []byte{0, 0, 0, 0}, nil
	}

	length := 1 + len(m.Payload)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], uint32(length))
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)

	return buf, nil
}

// UnmarshalBinary decodes a single complete frame (length prefix included)
// from b. Accepts both keep-alive (length==0) and normal frames.
func (m *Message) UnmarshalBinary(b []byte) error {
	if len(b) < 4 {
		return ErrShortMessage
	}

	length := binary.BigEndian.Uint32(b[0:4])
	if length == 0 {
		*m = Message{}
		return nil
	}
	if len(b) < 4+int(length) {
		return ErrShortMessage
	}

	m.ID = MessageID(b[4])
	m.Payload = append(m.Payload[:0], b[5:4+int(length)]...)

	return nil
}

func (m *Message) WriteTo(w io.Writer) (int64, error) {
	if m == nil {
		var z [4]byte
		n, err := w.Write(z[:])
		return int64(n), err
	}

	var hdr [5]byte
	length := 1 + len(m.Payload)
	binary.BigEndian.PutUint32(hdr[0:4], uint32(length))
	hdr[4] = byte(m.ID)

	n1, err := w.Write(hdr[:])
	if err != nil {
		return int64(n1), err
	}
	if len(m.Payload) == 0 {
		return int64(n1), nil
	}

	n2, err := w.Write(m.Payload)
	return int64(n1 + n2), err
}

func (m *Message) ReadFrom(r io.Reader) (int64, error) {
	var lp [4]byte
	if _, err := io.ReadFull(r, lp[:]); err != nil {
		return 0, err
	}

	length := binary.BigEndian.Uint32(lp[:])
	if length == 0 {
		*m = Message{}
		return 4, nil
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return int64(4 + len(buf)), err
	}

	m.ID = MessageID(buf[0])
	m.Payload = append(m.Payload[:0], buf[1:]...)

	return int64(4 + len(buf)), nil
}

// ReadMessage reads a full frame from r, returning nil for keep-alive.
func ReadMessage(r io.Reader) (*Message, error) {
	var m Message
	n, err := m.ReadFrom(r)
	if err != nil {
		return nil, err
	}

	// Only a zero length prefix (4 bytes consumed) is a keep-alive; a
	// CHOKE frame also has ID 0 and no payload but consumes 5 bytes.
	if n == 4 {
		return nil, nil
	}

	return &m, nil
}

// WriteMessage writes m to w. A nil m writes a keep-alive frame.
func WriteMessage(w io.Writer, m *Message) error {
	_, err := m.WriteTo(w)
	return err
}

// ValidatePayloadSize checks payload length against the fixed shapes the
// engine recognises.
func (m *Message) ValidatePayloadSize() error {
	if m == nil {
		return nil
	}

	switch m.ID {
	case Have:
		if len(m.Payload) != 4 {
			return ErrBadPayloadSize
		}
	case Request, Cancel:
		if len(m.Payload) != 12 {
			return ErrBadPayloadSize
		}
	case Piece:
		if len(m.Payload) < 8 {
			return ErrBadPayloadSize
		}
	case Port:
		if len(m.Payload) != 2 {
			return ErrBadPayloadSize
		}
	}

	return nil
}
