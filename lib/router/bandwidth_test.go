package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBandwidthTrackerAverages(t *testing.T) {
	bt := NewBandwidthTracker()
	bt.sample(100, 50)
	in, out := bt.Rates()
	assert.EqualValues(t, 50, in)
	assert.EqualValues(t, 100, out)

	bt.sample(100, 150)
	in, out = bt.Rates()
	assert.EqualValues(t, 75, in)
	assert.EqualValues(t, 50, out)
}

func TestBandwidthTrackerWindow(t *testing.T) {
	bt := NewBandwidthTracker()
	var total uint64
	for range sampleWindow {
		total += 1000
		bt.sample(total, 0)
	}
	for range sampleWindow {
		bt.sample(total, 0)
	}
	_, out := bt.Rates()
	assert.Zero(t, out, "old samples leave the window")
	assert.Len(t, bt.samples, sampleWindow)
}

func TestBandwidthTrackerStartStop(t *testing.T) {
	bt := NewBandwidthTracker()
	bt.Start(func() (uint64, uint64) { return 0, 0 })
	bt.Stop()
	bt.Stop()
}
