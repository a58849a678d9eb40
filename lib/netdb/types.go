package netdb

import (
	"crypto/subtle"
	"net/netip"
	"strings"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/go-i2p-core/lib/identity"
)

// Capability flags carried in PeerRecord.Caps.
const (
	// CapReachable marks a router that accepts inbound connections.
	CapReachable = "R"
	// CapUnreachable marks a router behind a NAT or firewall.
	CapUnreachable = "U"
	// CapHighBandwidth marks a router willing to carry more tunnels.
	CapHighBandwidth = "O"
	// CapFloodfill is advertised by routers that also serve the database.
	CapFloodfill = "f"
)

// PeerRecord is what the core needs to know about another router.
type PeerRecord struct {
	Hash         common.Hash
	StaticKey    [32]byte
	SigningKey   [32]byte
	StreamAddr   netip.AddrPort
	DatagramAddr netip.AddrPort
	Caps         string
	Published    time.Time
}

// NewPeerRecord builds a record for a public identity.
func NewPeerRecord(pub identity.Public, stream, datagram netip.AddrPort, caps string, published time.Time) PeerRecord {
	return PeerRecord{
		Hash:         pub.Hash(),
		StaticKey:    pub.StaticKey,
		SigningKey:   pub.SigningKey,
		StreamAddr:   stream,
		DatagramAddr: datagram,
		Caps:         caps,
		Published:    published,
	}
}

// Identity returns the public identity described by the record.
func (r PeerRecord) Identity() identity.Public {
	return identity.Public{SigningKey: r.SigningKey, StaticKey: r.StaticKey}
}

// HasCaps reports whether every flag in caps is advertised.
func (r PeerRecord) HasCaps(caps string) bool {
	for _, c := range caps {
		if !strings.ContainsRune(r.Caps, c) {
			return false
		}
	}
	return true
}

// Consistent reports whether Hash matches the keys in the record.
func (r PeerRecord) Consistent() bool {
	want := r.Identity().Hash()
	return subtle.ConstantTimeCompare(want[:], r.Hash[:]) == 1
}

// Filter accepts or rejects a candidate peer.
type Filter func(PeerRecord) bool

// PeerDB is the peer lookup interface consumed by the core.
type PeerDB interface {
	// FindPeers returns up to count random peers not in exclude that pass
	// filter. A nil filter accepts everything.
	FindPeers(count int, exclude []common.Hash, filter Filter) []PeerRecord
	// Resolve looks up a single peer.
	Resolve(hash common.Hash) (PeerRecord, bool)
}
