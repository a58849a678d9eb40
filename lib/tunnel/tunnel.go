package tunnel

import (
	"fmt"
	"sync"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/tunnel/layer"
	"github.com/go-i2p/logger"
	"github.com/google/uuid"
)

// DefaultLifetime is how long a tunnel stays usable when nothing else is
// configured.
const DefaultLifetime = 10 * time.Minute

// ID is a tunnel identifier. For an outbound tunnel it is the first hop's
// receive ID, for an inbound tunnel it is the ID the creator receives on.
type ID uint32

// Direction is the way messages travel relative to the creator.
type Direction uint8

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	switch d {
	case Outbound:
		return "outbound"
	case Inbound:
		return "inbound"
	}
	return fmt.Sprintf("direction(%d)", uint8(d))
}

// Role separates tunnels for router traffic from client tunnels.
type Role uint8

const (
	Exploratory Role = iota
	Client
)

func (r Role) String() string {
	switch r {
	case Exploratory:
		return "exploratory"
	case Client:
		return "client"
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// Hop is one relay of a tunnel as the creator knows it.
type Hop struct {
	Peer      identity.Public
	ReceiveID uint32
}

// Status is a snapshot of a tunnel.
type Status struct {
	ID        ID
	Attempt   uuid.UUID
	Direction Direction
	Role      Role
	State     State
	Hops      []common.Hash
	Created   time.Time
	Expires   time.Time
	Messages  uint64
}

// Tunnel is a tunnel this router created. All fields are guarded by mu.
type Tunnel struct {
	mu        sync.Mutex
	id        ID
	attempt   uuid.UUID
	direction Direction
	role      Role
	hops      []Hop
	keys      layer.Keys
	endpoint  [32]byte
	sealer    *layer.Sealer
	opener    *layer.Opener
	state     State
	created   time.Time
	expires   time.Time
	messages  uint64
}

func newTunnel(id ID, attempt uuid.UUID, dir Direction, role Role, hops []Hop, keys layer.Keys, endpoint [32]byte) *Tunnel {
	t := &Tunnel{
		id:        id,
		attempt:   attempt,
		direction: dir,
		role:      role,
		hops:      hops,
		keys:      keys,
		endpoint:  endpoint,
		state:     Building,
	}
	if dir == Outbound {
		t.sealer = layer.NewSealer(endpoint)
	} else {
		t.opener = layer.NewOpener(endpoint)
	}
	return t
}

func (t *Tunnel) ID() ID               { return t.id }
func (t *Tunnel) Attempt() uuid.UUID   { return t.attempt }
func (t *Tunnel) Direction() Direction { return t.direction }
func (t *Tunnel) Role() Role           { return t.role }
func (t *Tunnel) Len() int             { return len(t.hops) }

// Hops returns the hop hashes in build order.
func (t *Tunnel) Hops() []common.Hash {
	out := make([]common.Hash, len(t.hops))
	for i, h := range t.hops {
		out[i] = h.Peer.Hash()
	}
	return out
}

// State returns the current state.
func (t *Tunnel) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Expires returns the hard expiry, zero while building.
func (t *Tunnel) Expires() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expires
}

// Status returns a snapshot.
func (t *Tunnel) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		ID:        t.id,
		Attempt:   t.attempt,
		Direction: t.direction,
		Role:      t.role,
		State:     t.state,
		Hops:      t.Hops(),
		Created:   t.created,
		Expires:   t.expires,
		Messages:  t.messages,
	}
}

// Transition applies e. Reaching a terminal state wipes the keys.
func (t *Tunnel) Transition(e Event) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(e)
}

func (t *Tunnel) transitionLocked(e Event) (State, error) {
	next, err := Next(t.state, e)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":        "(Tunnel) Transition",
			"tunnel_id": t.id,
			"state":     t.state,
			"event":     e,
		}).Warn("invalid tunnel transition")
		return t.state, err
	}
	prev := t.state
	t.state = next
	if next.Terminal() {
		t.zeroLocked()
	}
	log.WithFields(logger.Fields{
		"at":        "(Tunnel) Transition",
		"tunnel_id": t.id,
		"attempt":   t.attempt,
		"from":      prev,
		"to":        next,
		"event":     e,
	}).Debug("tunnel state changed")
	return next, nil
}

// activate moves a built tunnel to Active with a fixed lifetime.
func (t *Tunnel) activate(now time.Time, lifetime time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.transitionLocked(EventAccepted); err != nil {
		return err
	}
	t.created = now
	t.expires = now.Add(lifetime)
	return nil
}

// age advances an Active or Expiring tunnel by the clock and returns the
// state afterwards.
func (t *Tunnel) age(now time.Time, replaceBefore time.Duration) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.Usable() {
		return t.state
	}
	if !now.Before(t.expires) {
		t.transitionLocked(EventExpired)
	} else if t.state == Active && !now.Before(t.expires.Add(-replaceBefore)) {
		t.transitionLocked(EventNearExpiry)
	}
	return t.state
}

func (t *Tunnel) zeroLocked() {
	t.keys.Zero()
	crypto.Zero32(&t.endpoint)
	if t.sealer != nil {
		t.sealer.Zero()
	}
	if t.opener != nil {
		t.opener.Zero()
	}
}

// wrap turns a payload into the tunnel message the creator hands to the
// first hop of an outbound tunnel.
func (t *Tunnel) wrap(d layer.Delivery, payload []byte) (*layer.Message, common.Hash, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.direction != Outbound {
		return nil, common.Hash{}, failure.Wrapf(ErrDirection, "tunnel %d is %s", t.id, t.direction)
	}
	if !t.state.Usable() {
		return nil, common.Hash{}, failure.Wrapf(ErrNotActive, "tunnel %d is %s", t.id, t.state)
	}
	data, err := t.sealer.Seal(d.Append(payload))
	if err != nil {
		return nil, common.Hash{}, err
	}
	msg, err := layer.NewMessage(t.hops[0].ReceiveID, data)
	crypto.Zero(data[:])
	if err != nil {
		return nil, common.Hash{}, err
	}
	if err := layer.PrepareOutbound(t.keys, msg); err != nil {
		return nil, common.Hash{}, err
	}
	t.messages++
	return msg, t.hops[0].Peer.Hash(), nil
}

// unwrap removes every hop layer of an inbound message and opens the end
// to end wrapper.
func (t *Tunnel) unwrap(msg *layer.Message) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.direction != Inbound {
		return nil, failure.Wrapf(ErrDirection, "tunnel %d is %s", t.id, t.direction)
	}
	if !t.state.Usable() {
		return nil, failure.Wrapf(ErrNotActive, "tunnel %d is %s", t.id, t.state)
	}
	if err := layer.DecryptInbound(t.keys, msg); err != nil {
		return nil, err
	}
	pt, err := t.opener.Open(layer.Data(msg))
	if err != nil {
		return nil, err
	}
	t.messages++
	return pt, nil
}

// count records a message that skipped the layers of a zero hop tunnel.
func (t *Tunnel) count() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.Usable() {
		return failure.Wrapf(ErrNotActive, "tunnel %d is %s", t.id, t.state)
	}
	t.messages++
	return nil
}
