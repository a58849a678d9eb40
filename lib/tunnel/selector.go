package tunnel

import (
	"net/netip"
	"sync"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/netdb"
	"github.com/go-i2p/logger"
)

const (
	// candidateFactor is how many candidates are fetched per wanted hop.
	candidateFactor = 4
	// selectRetries bounds the extra rounds when prefixes collide.
	selectRetries = 3
)

// Constraints narrow one selection.
type Constraints struct {
	// Exclude lists peers that must not be chosen.
	Exclude []common.Hash
	// Paired lists the hops of the tunnel this one is paired with.
	Paired []common.Hash
	// Caps lists capability flags every hop must advertise.
	Caps string
}

// Selector picks tunnel hops from the peer database. The local router is
// never chosen and no two hops share a /16 (IPv4) or /32 (IPv6) prefix.
type Selector struct {
	db    netdb.PeerDB
	local common.Hash

	mu      sync.RWMutex
	filters []PeerFilter
}

// NewSelector returns a selector over db that excludes local.
func NewSelector(db netdb.PeerDB, local common.Hash, filters ...PeerFilter) *Selector {
	return &Selector{db: db, local: local, filters: filters}
}

// AddFilter appends a filter to every later selection.
func (s *Selector) AddFilter(f PeerFilter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = append(s.filters, f)
}

// Select returns count hops in random order, or ErrNoPeers.
func (s *Selector) Select(count int, c Constraints) ([]netdb.PeerRecord, error) {
	if count <= 0 {
		return nil, nil
	}
	exclude := make([]common.Hash, 0, 1+len(c.Exclude)+len(c.Paired))
	exclude = append(exclude, s.local)
	exclude = append(exclude, c.Exclude...)
	exclude = append(exclude, c.Paired...)

	s.mu.RLock()
	filters := append([]PeerFilter(nil), s.filters...)
	s.mu.RUnlock()
	if c.Caps != "" {
		filters = append(filters, RequireCaps(c.Caps))
	}
	filter := compose(filters)

	var chosen []netdb.PeerRecord
	used := make(map[netip.Prefix]struct{})
	for round := 0; round <= selectRetries && len(chosen) < count; round++ {
		want := (count - len(chosen)) * candidateFactor
		candidates := s.db.FindPeers(want, exclude, filter)
		for _, rec := range candidates {
			exclude = append(exclude, rec.Hash)
			if len(chosen) == count {
				break
			}
			if p, ok := prefixOf(rec); ok {
				if _, clash := used[p]; clash {
					continue
				}
				used[p] = struct{}{}
			}
			chosen = append(chosen, rec)
		}
		if len(candidates) < want {
			break
		}
	}

	if len(chosen) < count {
		log.WithFields(logger.Fields{
			"at":       "(Selector) Select",
			"reason":   "constraints_unsatisfiable",
			"wanted":   count,
			"found":    len(chosen),
			"excluded": len(exclude),
			"caps":     c.Caps,
		}).Warn("not enough peers for tunnel")
		return nil, failure.Wrapf(ErrNoPeers, "found %d of %d hops", len(chosen), count)
	}
	return chosen, nil
}

// prefixOf returns the network a peer lives in: /16 for IPv4, /32 for IPv6.
func prefixOf(rec netdb.PeerRecord) (netip.Prefix, bool) {
	addr := rec.DatagramAddr
	if !addr.IsValid() {
		addr = rec.StreamAddr
	}
	if !addr.IsValid() {
		return netip.Prefix{}, false
	}
	ip := addr.Addr().Unmap()
	bits := 32
	if ip.Is4() {
		bits = 16
	}
	p, err := ip.Prefix(bits)
	if err != nil {
		return netip.Prefix{}, false
	}
	return p, true
}
