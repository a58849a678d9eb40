package bootstrap

import (
	"context"
	"errors"

	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/netdb"
	"github.com/go-i2p/logger"
)

// CompositeBootstrap tries each source in order and returns the first that
// yields peers.
type CompositeBootstrap struct {
	sources []Bootstrap
}

// NewCompositeBootstrap returns a source over sources, highest priority
// first.
func NewCompositeBootstrap(sources ...Bootstrap) *CompositeBootstrap {
	return &CompositeBootstrap{sources: sources}
}

// GetPeers implements Bootstrap.
func (cb *CompositeBootstrap) GetPeers(ctx context.Context, n int) ([]netdb.PeerRecord, error) {
	var errs []error
	for i, src := range cb.sources {
		peers, err := src.GetPeers(ctx, n)
		if err == nil {
			return peers, nil
		}
		if ctx.Err() != nil {
			return nil, failure.FromContext(ctx.Err(), "bootstrap: composite")
		}
		log.WithFields(logger.Fields{
			"at":     "(CompositeBootstrap) GetPeers",
			"phase":  "bootstrap",
			"source": i,
		}).WithError(err).Warn("bootstrap source failed, trying next")
		errs = append(errs, err)
	}
	return nil, failure.Wrap(ErrNoPeers, errors.Join(errs...))
}
