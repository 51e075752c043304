// Package uri parses the engine's bt:// open address and derives the
// listening address and candidate peer set from it, per spec.md §6.
package uri

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/wpxe-project/btengine/internal/config"
)

const (
	scheme    = "bt"
	minSelfID = 10
	maxSelfID = 99
)

// Target is the outcome of parsing a bt:// URI: this node's self-id and
// its listen address. The candidate peer set is derived separately by
// PeerSet.
type Target struct {
	SelfID int
	Listen string
}

// Parse decodes "bt://<id>" where id is a decimal ASCII host in [10,99].
func Parse(raw string) (Target, error) {
	rest, ok := strings.CutPrefix(raw, scheme+"://")
	if !ok {
		return Target{}, fmt.Errorf("uri: %q does not use the %s:// scheme", raw, scheme)
	}

	rest = strings.TrimSuffix(rest, "/")
	if rest == "" {
		return Target{}, fmt.Errorf("uri: %q is missing a host", raw)
	}

	id, err := strconv.Atoi(rest)
	if err != nil {
		return Target{}, fmt.Errorf("uri: host %q is not a decimal self-id: %w", rest, err)
	}
	if id < minSelfID || id > maxSelfID {
		return Target{}, fmt.Errorf("uri: self-id %d out of range [%d,%d]", id, minSelfID, maxSelfID)
	}

	return Target{
		SelfID: id,
		Listen: ListenAddr(id),
	}, nil
}

// ListenAddr maps a self-id to the reference listening address,
// 192.168.4.<id>:<config.Port> (spec.md §6).
func ListenAddr(selfID int) string {
	ip := net.IPv4(192, 168, 4, byte(selfID))
	return net.JoinHostPort(ip.String(), strconv.Itoa(int(config.Load().Port)))
}

// PeerAddr maps a peer-id to its dial address, using the same mapping as
// ListenAddr (every node in the reference topology listens at the address
// derived from its own self-id).
func PeerAddr(peerID int) string {
	return ListenAddr(peerID)
}

// PeerSet computes the candidate peer ids for selfID: self_id + k + 1 for
// k in [0, maxPeers). Ids outside [minSelfID,maxSelfID] are omitted from
// the result rather than kept as empty slots, so the slice can be shorter
// than maxPeers.
func PeerSet(selfID, maxPeers int) []int {
	peers := make([]int, 0, maxPeers)

	for k := 0; k < maxPeers; k++ {
		candidate := selfID + k + 1
		if candidate < minSelfID || candidate > maxSelfID {
			continue
		}
		peers = append(peers, candidate)
	}

	return peers
}
