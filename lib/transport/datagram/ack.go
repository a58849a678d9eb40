package datagram

import (
	"encoding/binary"
	"time"

	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/transport/block"
)

const (
	ackBlockSize = block.HeaderSize + 12
	// lossAfter is how long an ack eliciting packet may stay unacknowledged
	// before it is counted as lost.
	lossAfter = 3 * time.Second
)

// ackRange is the highest received packet number and a bitmap of the 64
// numbers below it. Bit i stands for Highest-1-i.
type ackRange struct {
	Highest uint32
	Bitmap  uint64
}

func (a ackRange) block() block.Block {
	data := make([]byte, 12)
	binary.BigEndian.PutUint32(data[0:4], a.Highest)
	binary.BigEndian.PutUint64(data[4:12], a.Bitmap)
	return block.Block{Type: block.TypeAck, Data: data}
}

func parseAck(data []byte) (ackRange, error) {
	if len(data) != 12 {
		return ackRange{}, failure.Wrapf(ErrPacket, "ack block is %d bytes", len(data))
	}
	return ackRange{
		Highest: binary.BigEndian.Uint32(data[0:4]),
		Bitmap:  binary.BigEndian.Uint64(data[4:12]),
	}, nil
}

// each calls fn for every packet number the range acknowledges.
func (a ackRange) each(fn func(uint32)) {
	fn(a.Highest)
	for i := uint32(0); i < 64 && i < a.Highest; i++ {
		if a.Bitmap&(1<<i) != 0 {
			fn(a.Highest - 1 - i)
		}
	}
}

// receivedSet tracks received packet numbers for acks.
type receivedSet struct {
	any     bool
	highest uint32
	bitmap  uint64
	// pending is set when an ack eliciting packet has not been acked yet.
	pending bool
}

func (r *receivedSet) record(pn uint32, elicit bool) {
	switch {
	case !r.any:
		r.any = true
		r.highest = pn
		r.bitmap = 0
	case pn > r.highest:
		shift := pn - r.highest
		if shift > 64 {
			r.bitmap = 0
		} else {
			r.bitmap = r.bitmap<<shift | 1<<(shift-1)
		}
		r.highest = pn
	case pn < r.highest:
		if d := r.highest - 1 - pn; d < 64 {
			r.bitmap |= 1 << d
		}
	}
	if elicit {
		r.pending = true
	}
}

func (r *receivedSet) ack() ackRange {
	r.pending = false
	return ackRange{Highest: r.highest, Bitmap: r.bitmap}
}

// sentSet remembers unacknowledged ack eliciting packets for loss
// statistics only. Nothing is retransmitted.
type sentSet struct {
	inflight map[uint32]time.Time
}

func newSentSet() *sentSet {
	return &sentSet{inflight: make(map[uint32]time.Time)}
}

func (s *sentSet) add(pn uint32, now time.Time) {
	s.inflight[pn] = now
}

// acked removes the range and returns how many packets it newly covered.
func (s *sentSet) acked(a ackRange) int {
	n := 0
	a.each(func(pn uint32) {
		if _, ok := s.inflight[pn]; ok {
			delete(s.inflight, pn)
			n++
		}
	})
	return n
}

// lost removes and counts packets older than lossAfter.
func (s *sentSet) lost(now time.Time) int {
	n := 0
	for pn, at := range s.inflight {
		if now.Sub(at) > lossAfter {
			delete(s.inflight, pn)
			n++
		}
	}
	return n
}
