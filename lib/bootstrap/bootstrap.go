package bootstrap

import (
	"context"
	"errors"

	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/netdb"
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// ErrNoPeers is returned when a source yields nothing usable.
var ErrNoPeers = failure.Sentinel(failure.Exhausted, "bootstrap: no peers")

// Bootstrap is a source of peer records.
type Bootstrap interface {
	// GetPeers returns at most n records, or as many as possible when n is
	// zero. It fails when it cannot return any.
	GetPeers(ctx context.Context, n int) ([]netdb.PeerRecord, error)
}

// Store is where seeded records go.
type Store interface {
	Store(rec netdb.PeerRecord) error
}

// Seed copies up to n records from b into db and returns how many were
// stored. Records db refuses are skipped; the error is returned only when
// none could be stored.
func Seed(ctx context.Context, db Store, b Bootstrap, n int) (int, error) {
	peers, err := b.GetPeers(ctx, n)
	if err != nil {
		return 0, err
	}
	stored := 0
	var errs []error
	for _, rec := range peers {
		if err := db.Store(rec); err != nil {
			errs = append(errs, err)
			continue
		}
		stored++
	}
	log.WithFields(logger.Fields{
		"at":      "Seed",
		"phase":   "bootstrap",
		"offered": len(peers),
		"stored":  stored,
	}).Info("peer database seeded")
	if stored == 0 {
		return 0, failure.Wrap(ErrNoPeers, errors.Join(errs...))
	}
	return stored, nil
}
