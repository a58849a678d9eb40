package router

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	sampleInterval = time.Second
	// sampleWindow is how many samples the average covers
	sampleWindow = 15
)

type bandwidthSample struct {
	sent     uint64
	received uint64
}

// BandwidthTracker turns the router's cumulative byte counters into a
// rolling average in bytes per second.
type BandwidthTracker struct {
	mu      sync.Mutex
	samples []bandwidthSample
	lastIn  uint64
	lastOut uint64

	inboundRate  atomic.Uint64
	outboundRate atomic.Uint64

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewBandwidthTracker creates a tracker. Start begins sampling.
func NewBandwidthTracker() *BandwidthTracker {
	return &BandwidthTracker{
		samples:  make([]bandwidthSample, 0, sampleWindow),
		stopChan: make(chan struct{}),
	}
}

// Start samples counters once per second until Stop.
func (bt *BandwidthTracker) Start(counters func() (sent, received uint64)) {
	bt.mu.Lock()
	bt.lastOut, bt.lastIn = counters()
	bt.mu.Unlock()

	bt.wg.Add(1)
	go func() {
		defer bt.wg.Done()
		ticker := time.NewTicker(sampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				bt.sample(counters())
			case <-bt.stopChan:
				return
			}
		}
	}()
}

// sample records the traffic since the previous sample.
func (bt *BandwidthTracker) sample(sent, received uint64) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	bt.samples = append(bt.samples, bandwidthSample{sent: sent - bt.lastOut, received: received - bt.lastIn})
	if len(bt.samples) > sampleWindow {
		bt.samples = bt.samples[1:]
	}
	bt.lastOut, bt.lastIn = sent, received

	var in, out uint64
	for _, s := range bt.samples {
		in += s.received
		out += s.sent
	}
	n := uint64(len(bt.samples))
	bt.inboundRate.Store(in / n)
	bt.outboundRate.Store(out / n)
}

// Rates returns the averaged inbound and outbound rates in bytes per second.
func (bt *BandwidthTracker) Rates() (inbound, outbound uint64) {
	return bt.inboundRate.Load(), bt.outboundRate.Load()
}

// Stop ends sampling.
func (bt *BandwidthTracker) Stop() {
	bt.stopOnce.Do(func() {
		close(bt.stopChan)
		bt.wg.Wait()
	})
}
