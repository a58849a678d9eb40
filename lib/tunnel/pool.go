package tunnel

import (
	"context"
	"errors"
	"sync"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/go-i2p-core/lib/config"
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/netdb"
	"github.com/go-i2p/logger"
)

// PoolConfig shapes the tunnels a pool keeps.
type PoolConfig struct {
	Direction Direction
	Role      Role
	// Length is hops per tunnel
	Length int
	// MinTunnels is how many Active tunnels the pool keeps
	MinTunnels int
	// BuildRetries bounds the attempts for one tunnel
	BuildRetries int
	// Caps are capability flags every hop must advertise
	Caps string
	// Interval is the maintenance period used by Start
	Interval time.Duration
}

// PoolConfigFrom takes the pool settings from the tunnel configuration.
func PoolConfigFrom(cfg config.TunnelDefaults, dir Direction, role Role) PoolConfig {
	return PoolConfig{
		Direction:    dir,
		Role:         role,
		Length:       cfg.TunnelLength,
		MinTunnels:   cfg.MinPoolSize,
		BuildRetries: cfg.BuildRetries,
		Interval:     cfg.MaintenanceInterval,
	}
}

// Pool keeps MinTunnels tunnels of one direction and role alive. A tunnel
// that enters Expiring no longer counts, so its replacement is built while
// it still works.
type Pool struct {
	cfg PoolConfig
	mgr *Manager
	sel *Selector

	mu      sync.Mutex
	tunnels []*Tunnel
	next    int
	paired  *Pool

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewPool returns a pool that builds through mgr with hops from sel.
func NewPool(mgr *Manager, sel *Selector, cfg PoolConfig) *Pool {
	if cfg.BuildRetries < 1 {
		cfg.BuildRetries = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{cfg: cfg, mgr: mgr, sel: sel, ctx: ctx, cancel: cancel}
}

// Pair makes the pool avoid the hops of other's tunnels. Pair an inbound
// pool with the outbound pool of the same role.
func (p *Pool) Pair(other *Pool) {
	p.mu.Lock()
	p.paired = other
	p.mu.Unlock()
}

// Tunnels returns the tunnels the pool holds, in build order.
func (p *Pool) Tunnels() []*Tunnel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Tunnel(nil), p.tunnels...)
}

// Select returns the next Active tunnel round robin, falling back to an
// Expiring one.
func (p *Pool) Select() (*Tunnel, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var fallback *Tunnel
	for i := range p.tunnels {
		t := p.tunnels[(p.next+i)%len(p.tunnels)]
		switch t.State() {
		case Active:
			p.next = (p.next + i + 1) % len(p.tunnels)
			return t, true
		case Expiring:
			if fallback == nil {
				fallback = t
			}
		}
	}
	return fallback, fallback != nil
}

// hops returns every hop of the pool's usable tunnels.
func (p *Pool) hops() []common.Hash {
	var out []common.Hash
	for _, t := range p.Tunnels() {
		if t.State().Usable() {
			out = append(out, t.Hops()...)
		}
	}
	return out
}

// prune drops terminal tunnels and counts the Active ones.
func (p *Pool) prune() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.tunnels[:0]
	active := 0
	for _, t := range p.tunnels {
		st := t.State()
		if st.Terminal() {
			continue
		}
		if st == Active {
			active++
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(p.tunnels); i++ {
		p.tunnels[i] = nil
	}
	p.tunnels = kept
	if p.next >= len(kept) {
		p.next = 0
	}
	return active
}

// Maintain builds tunnels until MinTunnels are Active or a build fails for
// good. Builds run one after the other.
func (p *Pool) Maintain(ctx context.Context) error {
	active := p.prune()
	need := p.cfg.MinTunnels - active
	if need <= 0 {
		return nil
	}
	log.WithFields(logger.Fields{
		"at":        "(Pool) Maintain",
		"direction": p.cfg.Direction,
		"role":      p.cfg.Role,
		"active":    active,
		"building":  need,
	}).Debug("pool below minimum")

	var errs []error
	for range need {
		if _, err := p.buildOne(ctx); err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil || errors.Is(err, failure.Exhausted) {
				break
			}
		}
	}
	return errors.Join(errs...)
}

// buildOne builds a single tunnel. A hop that rejects is excluded from the
// next attempt. Timeouts retry with fresh hops; any other failure ends it.
func (p *Pool) buildOne(ctx context.Context) (*Tunnel, error) {
	p.mu.Lock()
	paired := p.paired
	p.mu.Unlock()

	var exclude []common.Hash
	var lastErr error
	for attempt := 1; attempt <= p.cfg.BuildRetries; attempt++ {
		c := Constraints{Exclude: exclude, Caps: p.cfg.Caps}
		if paired != nil {
			c.Paired = paired.hops()
		}
		peers, err := p.sel.Select(p.cfg.Length, c)
		if err != nil {
			return nil, err
		}
		t, err := p.mgr.Build(ctx, identities(peers), p.cfg.Direction, p.cfg.Role)
		if err == nil {
			p.mu.Lock()
			p.tunnels = append(p.tunnels, t)
			p.mu.Unlock()
			return t, nil
		}
		lastErr = err
		log.WithFields(logger.Fields{
			"at":        "(Pool) buildOne",
			"direction": p.cfg.Direction,
			"attempt":   attempt,
			"of":        p.cfg.BuildRetries,
		}).WithError(err).Warn("pool build attempt failed")
		switch failure.KindOf(err) {
		case failure.CapacityRejected:
			exclude = append(exclude, RejectingHops(err)...)
		case failure.Timeout:
		default:
			return nil, err
		}
	}
	return nil, lastErr
}

func identities(peers []netdb.PeerRecord) []identity.Public {
	out := make([]identity.Public, len(peers))
	for i, rec := range peers {
		out[i] = rec.Identity()
	}
	return out
}

// Start runs Maintain now and then every Interval until Stop.
func (p *Pool) Start() {
	interval := p.cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if err := p.Maintain(p.ctx); err != nil && p.ctx.Err() == nil {
				log.WithFields(logger.Fields{
					"at":        "(Pool) Start",
					"direction": p.cfg.Direction,
					"role":      p.cfg.Role,
				}).WithError(err).Warn("pool maintenance incomplete")
			}
			select {
			case <-p.ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends maintenance. Tunnels stay with the manager.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
	})
}
