package tunnel

import "github.com/go-i2p/go-i2p-core/lib/netdb"

// PeerFilter accepts or rejects a candidate hop. Filters stack.
type PeerFilter interface {
	// Name is used in logs.
	Name() string
	// Accept reports whether the peer may be used.
	Accept(rec netdb.PeerRecord) bool
}

// compose turns a filter stack into the predicate the peer database takes.
func compose(filters []PeerFilter) netdb.Filter {
	if len(filters) == 0 {
		return nil
	}
	return func(rec netdb.PeerRecord) bool {
		for _, f := range filters {
			if !f.Accept(rec) {
				return false
			}
		}
		return true
	}
}
