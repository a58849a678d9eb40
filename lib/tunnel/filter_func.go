package tunnel

import (
	"time"

	"github.com/go-i2p/go-i2p-core/lib/netdb"
)

// FuncFilter wraps a function as a PeerFilter.
type FuncFilter struct {
	name     string
	acceptFn func(rec netdb.PeerRecord) bool
}

// NewFuncFilter creates a filter from a function.
func NewFuncFilter(name string, acceptFn func(rec netdb.PeerRecord) bool) *FuncFilter {
	return &FuncFilter{name: name, acceptFn: acceptFn}
}

// Name returns the filter name.
func (f *FuncFilter) Name() string { return f.name }

// Accept calls the wrapped function.
func (f *FuncFilter) Accept(rec netdb.PeerRecord) bool { return f.acceptFn(rec) }

// RequireCaps passes peers advertising every flag in caps.
func RequireCaps(caps string) *FuncFilter {
	return NewFuncFilter("caps:"+caps, func(rec netdb.PeerRecord) bool {
		return rec.HasCaps(caps)
	})
}

// Consistent passes peers whose hash matches their keys.
func Consistent() *FuncFilter {
	return NewFuncFilter("consistent", netdb.PeerRecord.Consistent)
}

// PublishedWithin passes peers whose record is younger than maxAge at now.
func PublishedWithin(now func() time.Time, maxAge time.Duration) *FuncFilter {
	return NewFuncFilter("fresh", func(rec netdb.PeerRecord) bool {
		return now().Sub(rec.Published) < maxAge
	})
}

// FromNetDB adapts a database predicate such as PeerTracker.NotStale.
func FromNetDB(name string, f netdb.Filter) *FuncFilter {
	return NewFuncFilter(name, f)
}

// AllOf passes a peer every filter accepts. No filters pass everything.
func AllOf(name string, filters ...PeerFilter) *FuncFilter {
	return NewFuncFilter(name, func(rec netdb.PeerRecord) bool {
		for _, f := range filters {
			if !f.Accept(rec) {
				return false
			}
		}
		return true
	})
}

// AnyOf passes a peer at least one filter accepts. No filters pass
// everything.
func AnyOf(name string, filters ...PeerFilter) *FuncFilter {
	return NewFuncFilter(name, func(rec netdb.PeerRecord) bool {
		for _, f := range filters {
			if f.Accept(rec) {
				return true
			}
		}
		return len(filters) == 0
	})
}

// Not passes the peers f rejects.
func Not(f PeerFilter) *FuncFilter {
	return NewFuncFilter("!"+f.Name(), func(rec netdb.PeerRecord) bool {
		return !f.Accept(rec)
	})
}

var _ PeerFilter = (*FuncFilter)(nil)
