package datagram

import (
	"encoding/binary"
	"time"

	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/transport/block"
)

// fragmentHeaderSize is message ID, fragment number and fragment count.
const fragmentHeaderSize = 6

type fragment struct {
	MessageID uint32
	Number    uint8
	Count     uint8
	Data      []byte
}

func (f fragment) block() block.Block {
	data := make([]byte, fragmentHeaderSize+len(f.Data))
	binary.BigEndian.PutUint32(data[0:4], f.MessageID)
	data[4] = f.Number
	data[5] = f.Count
	copy(data[fragmentHeaderSize:], f.Data)
	return block.Block{Type: block.TypeFragment, Data: data}
}

func parseFragment(data []byte) (fragment, error) {
	if len(data) < fragmentHeaderSize {
		return fragment{}, failure.Wrapf(ErrFragment, "fragment block is %d bytes", len(data))
	}
	f := fragment{
		MessageID: binary.BigEndian.Uint32(data[0:4]),
		Number:    data[4],
		Count:     data[5],
		Data:      data[fragmentHeaderSize:],
	}
	if f.Count == 0 || f.Number >= f.Count {
		return fragment{}, failure.Wrapf(ErrFragment, "fragment %d of %d", f.Number, f.Count)
	}
	return f, nil
}

// split cuts a sealed message into fragments of at most size bytes.
func split(messageID uint32, sealed []byte, size int) []fragment {
	count := (len(sealed) + size - 1) / size
	if count == 0 {
		count = 1
	}
	frags := make([]fragment, 0, count)
	for i := 0; i < count; i++ {
		end := (i + 1) * size
		if end > len(sealed) {
			end = len(sealed)
		}
		frags = append(frags, fragment{
			MessageID: messageID,
			Number:    uint8(i),
			Count:     uint8(count),
			Data:      sealed[i*size : end],
		})
	}
	return frags
}

type partial struct {
	parts   [][]byte
	have    int
	started time.Time
}

// reassembler collects fragments per message ID. It belongs to one session
// goroutine.
type reassembler struct {
	window       time.Duration
	maxFragments int
	partials     map[uint32]*partial
	// done remembers recently completed IDs so late duplicates of their
	// fragments do not restart reassembly.
	done map[uint32]time.Time
}

func newReassembler(window time.Duration, maxFragments int) *reassembler {
	return &reassembler{
		window:       window,
		maxFragments: maxFragments,
		partials:     make(map[uint32]*partial),
		done:         make(map[uint32]time.Time),
	}
}

// add stores f and returns the whole sealed message once every fragment
// is present.
func (r *reassembler) add(f fragment, now time.Time) ([]byte, bool, error) {
	if int(f.Count) > r.maxFragments {
		return nil, false, failure.Wrapf(ErrFragment, "message has %d fragments, limit %d", f.Count, r.maxFragments)
	}
	if _, seen := r.done[f.MessageID]; seen {
		return nil, false, nil
	}
	p, ok := r.partials[f.MessageID]
	if !ok {
		p = &partial{parts: make([][]byte, f.Count), started: now}
		r.partials[f.MessageID] = p
	}
	if len(p.parts) != int(f.Count) {
		return nil, false, failure.Wrapf(ErrFragment, "message %d fragment count changed from %d to %d", f.MessageID, len(p.parts), f.Count)
	}
	if p.parts[f.Number] != nil {
		return nil, false, nil
	}
	p.parts[f.Number] = append([]byte(nil), f.Data...)
	p.have++
	if p.have < len(p.parts) {
		return nil, false, nil
	}

	delete(r.partials, f.MessageID)
	r.done[f.MessageID] = now
	size := 0
	for _, part := range p.parts {
		size += len(part)
	}
	msg := make([]byte, 0, size)
	for _, part := range p.parts {
		msg = append(msg, part...)
	}
	return msg, true, nil
}

// expire drops partial messages older than the window and returns how
// many were discarded.
func (r *reassembler) expire(now time.Time) int {
	dropped := 0
	for id, p := range r.partials {
		if now.Sub(p.started) > r.window {
			delete(r.partials, id)
			dropped++
		}
	}
	for id, at := range r.done {
		if now.Sub(at) > r.window {
			delete(r.done, id)
		}
	}
	return dropped
}

func (r *reassembler) pending() int { return len(r.partials) }
