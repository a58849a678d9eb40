// Package clock supplies the time source for handshake timestamps and
// expiration checks. The NTP-backed clock keeps a median offset from a set
// of SNTP servers so a router with a drifting system clock still passes
// its peers' clock skew checks.
package clock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// Clock reports the current network time.
type Clock interface {
	Now() time.Time
}

// System is the local wall clock.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time { return time.Now() }

// NTPClient performs one SNTP query. It is satisfied by DefaultNTPClient.
type NTPClient interface {
	QueryWithOptions(host string, options ntp.QueryOptions) (*ntp.Response, error)
}

// DefaultNTPClient queries real servers.
type DefaultNTPClient struct{}

// QueryWithOptions calls ntp.QueryWithOptions.
func (DefaultNTPClient) QueryWithOptions(host string, options ntp.QueryOptions) (*ntp.Response, error) {
	return ntp.QueryWithOptions(host, options)
}

const (
	// maxVariance is the largest disagreement tolerated between samples of
	// one sync round.
	maxVariance = 10 * time.Second
	// maxOffset rejects servers that claim an absurd offset.
	maxOffset = 24 * time.Hour
)

// NTP is a Clock corrected by a periodically refreshed SNTP offset.
type NTP struct {
	client     NTPClient
	servers    []string
	concurring int
	timeout    time.Duration
	interval   time.Duration

	mu     sync.RWMutex
	offset time.Duration
	synced bool

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewNTP creates an NTP clock. It reports system time until the first
// successful Sync.
func NewNTP(client NTPClient, servers []string, concurring int, timeout, interval time.Duration) *NTP {
	if client == nil {
		client = DefaultNTPClient{}
	}
	if concurring < 1 {
		concurring = 1
	}
	return &NTP{
		client:     client,
		servers:    append([]string(nil), servers...),
		concurring: concurring,
		timeout:    timeout,
		interval:   interval,
		stop:       make(chan struct{}),
	}
}

// Now returns the corrected time.
func (c *NTP) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().Add(c.offset)
}

// Offset returns the current correction and whether a sync succeeded.
func (c *NTP) Offset() (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset, c.synced
}

// Sync queries `concurring` servers and adopts the median offset when all
// samples agree within maxVariance.
func (c *NTP) Sync(ctx context.Context) error {
	if len(c.servers) == 0 {
		return oops.Errorf("no NTP servers configured")
	}
	samples := make([]time.Duration, 0, c.concurring)
	for attempt := 0; len(samples) < c.concurring && attempt < c.concurring*2; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		server := c.servers[int(rand.Int63n(int64(len(c.servers))))]
		resp, err := c.client.QueryWithOptions(server, ntp.QueryOptions{Timeout: c.timeout})
		if err != nil {
			log.WithError(err).WithField("server", server).Debug("NTP query failed")
			continue
		}
		if err := resp.Validate(); err != nil {
			log.WithError(err).WithField("server", server).Debug("NTP response rejected")
			continue
		}
		if resp.ClockOffset > maxOffset || resp.ClockOffset < -maxOffset {
			continue
		}
		samples = append(samples, resp.ClockOffset)
	}
	if len(samples) < c.concurring {
		return oops.Errorf("only %d of %d NTP samples collected", len(samples), c.concurring)
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	if samples[len(samples)-1]-samples[0] > maxVariance {
		return oops.Errorf("NTP samples disagree by %v", samples[len(samples)-1]-samples[0])
	}
	median := samples[len(samples)/2]

	c.mu.Lock()
	c.offset = median.Round(time.Second)
	c.synced = true
	c.mu.Unlock()

	log.WithFields(logger.Fields{
		"at":     "(NTP) Sync",
		"offset": median,
	}).Debug("clock offset updated")
	return nil
}

// Start runs Sync every interval until Stop.
func (c *NTP) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			ctx, cancel := context.WithTimeout(context.Background(), c.timeout*time.Duration(c.concurring*2))
			if err := c.Sync(ctx); err != nil {
				log.WithError(err).Warn("NTP sync failed")
			}
			cancel()
			select {
			case <-c.stop:
				return
			case <-time.After(c.interval):
			}
		}
	}()
}

// Stop ends the background loop.
func (c *NTP) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
}
