package wire

import (
	"encoding"
	"errors"
	"io"
)

const (
	btProtocol   = "BitTorrent protocol"
	reservedN    = 8
	infoHashN    = 20
	peerIDN      = 20
	HandshakeLen = 1 + len(btProtocol) + reservedN + infoHashN + peerIDN // 68
)

// Handshake is the 68-byte prologue exchanged by both ends of a peer
// connection before any post-handshake message is valid:
//
//	pstrlen(1)=19 | pstr(19) | reserved(8)=0 | info_hash(20) | peer_id(20)
type Handshake struct {
	Pstr     string
	Reserved [reservedN]byte
	InfoHash [infoHashN]byte
	PeerID   [peerIDN]byte
}

var (
	ErrProtocolMismatch = errors.New("wire: protocol string mismatch")
	ErrBadPstrlen       = errors.New("wire: invalid protocol string length")
	ErrShortHandshake   = errors.New("wire: short handshake")
	ErrInfoHashMismatch = errors.New("wire: info hash mismatch")
)

var (
	_ encoding.BinaryMarshaler   = (*Handshake)(nil)
	_ encoding.BinaryUnmarshaler = (*Handshake)(nil)
	_ io.WriterTo                = (*Handshake)(nil)
	_ io.ReaderFrom              = (*Handshake)(nil)
)

// NewHandshake returns a canonical handshake for infoHash/peerID with the
// standard protocol string and zeroed reserved bytes.
func NewHandshake(infoHash, peerID [20]byte) *Handshake {
	return &Handshake{
		Pstr:     btProtocol,
		InfoHash: infoHash,
		PeerID:   peerID,
	}
}

func (h *Handshake) MarshalBinary() ([]byte, error) {
	if len(h.Pstr) == 0 || len(h.Pstr) > 255 {
		return nil, ErrBadPstrlen
	}

	n := 1 + len(h.Pstr) + reservedN + infoHashN + peerIDN
	buf := make([]byte, n)

	buf[0] = byte(len(h.Pstr))
	offset := 1
	offset += copy(buf[offset:], h.Pstr)
	offset += copy(buf[offset:], make([]byte, reservedN))
	offset += copy(buf[offset:], h.InfoHash[:])
	copy(buf[offset:], h.PeerID[:])

	return buf, nil
}

func (h *Handshake) UnmarshalBinary(b []byte) error {
	if len(b) < 1 {
		return ErrShortHandshake
	}

	pstrlen := int(b[0])
	if pstrlen == 0 || pstrlen > 255 {
		return ErrBadPstrlen
	}

	const tail = reservedN + infoHashN + peerIDN
	if len(b) < 1+pstrlen+tail {
		return ErrShortHandshake
	}

	start := 1
	end := start + pstrlen
	h.Pstr = string(b[start:end])
	copy(h.Reserved[:], b[end:end+reservedN])
	copy(h.InfoHash[:], b[end+reservedN:end+reservedN+infoHashN])
	copy(h.PeerID[:], b[end+reservedN+infoHashN:])

	return nil
}

func (h *Handshake) WriteTo(w io.Writer) (int64, error) {
	b, err := h.MarshalBinary()
	if err != nil {
		return 0, err
	}

	n, err := w.Write(b)
	return int64(n), err
}

func (h *Handshake) ReadFrom(r io.Reader) (int64, error) {
	var hdr [1]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return 0, ErrShortHandshake
		}
		return 0, err
	}

	pstrlen := int(hdr[0])
	if pstrlen != 19 {
		return 1, ErrBadPstrlen
	}

	rest := make([]byte, pstrlen+reservedN+infoHashN+peerIDN)
	if _, err := io.ReadFull(r, rest); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return int64(1 + len(rest)), ErrShortHandshake
		}
		return int64(1 + len(rest)), err
	}

	if err := h.UnmarshalBinary(append(hdr[:], rest...)); err != nil {
		return int64(1 + len(rest)), err
	}

	return int64(1 + len(rest)), nil
}

// ReadHandshake reads a full handshake from r.
func ReadHandshake(r io.Reader) (Handshake, error) {
	var h Handshake
	_, err := h.ReadFrom(r)
	return h, err
}

// WriteHandshake writes h to w in wire format.
func WriteHandshake(w io.Writer, h Handshake) error {
	_, err := h.WriteTo(w)
	return err
}

// Accept validates a received handshake against our info hash, per
// spec.md §4.1: accepted iff pstrlen==19 and info_hash matches.
func (h Handshake) Accept(remote Handshake) error {
	if remote.Pstr != btProtocol {
		return ErrProtocolMismatch
	}
	if remote.InfoHash != h.InfoHash {
		return ErrInfoHashMismatch
	}

	return nil
}
