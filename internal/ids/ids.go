// Package ids implements the identifiers named in spec.md §6: the
// info-hash hex encoding and the session's self peer-id generation.
package ids

import (
	"crypto/rand"
	"fmt"
)

// InfoHashLen is the fixed size of a torrent content fingerprint.
const InfoHashLen = 20

// DecodeInfoHash decodes a 40-character lower-hex ASCII string into a
// 20-byte info-hash, per spec.md §6. Only lowercase a-f is accepted;
// spec.md Open Question 5 notes the original silently miscodes uppercase
// hex rather than rejecting it, and we preserve that by simply not
// special-casing uppercase: it falls through to the "invalid digit"
// error below instead of being treated as valid. We do not replicate the
// silent miscoding itself since nothing observes it, but we do not
// attempt a more permissive decode either.
func DecodeInfoHash(s string) ([InfoHashLen]byte, error) {
	var out [InfoHashLen]byte

	if len(s) != 2*InfoHashLen {
		return out, fmt.Errorf("ids: info hash must be %d hex chars, got %d", 2*InfoHashLen, len(s))
	}

	for i := 0; i < InfoHashLen; i++ {
		hi, ok := hexDigit(s[2*i])
		if !ok {
			return out, fmt.Errorf("ids: invalid hex digit %q at position %d", s[2*i], 2*i)
		}
		lo, ok := hexDigit(s[2*i+1])
		if !ok {
			return out, fmt.Errorf("ids: invalid hex digit %q at position %d", s[2*i+1], 2*i+1)
		}

		out[i] = hi<<4 | lo
	}

	return out, nil
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}

// peerIDPrefix and peerIDRandN describe the fixed ASCII layout of the
// 20-byte peer-id: "-iP1000" (7 bytes) + two node-id digits +
// 10 random decimal digits + "-" (1 byte) = 20 bytes total.
const (
	peerIDPrefix = "-iP1000"
	peerIDRandN  = 10
)

// GeneratePeerID returns a 20-byte ASCII peer-id in the format
// "-iP1000NN<10 random decimal digits>-", where NN is the node's self-id
// (2 decimal digits, zero-padded), per spec.md §3/§6.
func GeneratePeerID(selfID int) ([20]byte, error) {
	var out [20]byte

	if selfID < 0 || selfID > 99 {
		return out, fmt.Errorf("ids: self id %d out of range [0,99]", selfID)
	}

	head := fmt.Sprintf("%s%02d", peerIDPrefix, selfID)

	digits := make([]byte, peerIDRandN)
	raw := make([]byte, peerIDRandN)
	if _, err := rand.Read(raw); err != nil {
		return out, fmt.Errorf("ids: generating peer id: %w", err)
	}
	for i, b := range raw {
		digits[i] = '0' + b%10
	}

	n := copy(out[:], head)
	n += copy(out[n:], digits)
	out[n] = '-'

	return out, nil
}

// RemoteNodeID decodes the two-digit node id encoded in the first two
// ASCII bytes following peerIDPrefix of a remote peer-id, per spec.md
// §4.2 ("derive remote_id from first two bytes of the remote peer-id").
func RemoteNodeID(peerID [20]byte) (int, bool) {
	prefixLen := len(peerIDPrefix)
	if len(peerID) < prefixLen+2 {
		return 0, false
	}

	hi, lo := peerID[prefixLen], peerID[prefixLen+1]
	if hi < '0' || hi > '9' || lo < '0' || lo > '9' {
		return 0, false
	}

	return int(hi-'0')*10 + int(lo-'0'), true
}
