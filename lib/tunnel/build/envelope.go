package build

import (
	"bytes"
	"fmt"

	"github.com/go-i2p/common/session_key"
	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// Envelope geometry.
const (
	SlotCount    = 8
	RecordSize   = 528
	EnvelopeSize = SlotCount * RecordSize
	MaxHops      = 7
	ToPeerSize   = 16

	ephemeralOffset = ToPeerSize
	sealedOffset    = ToPeerSize + 32
	cleartextSize   = RecordSize - sealedOffset - crypto.TagSize
	replyPlainSize  = RecordSize - crypto.TagSize
)

// Status is a hop's answer.
type Status byte

const (
	StatusAccept Status = 0
	// StatusReject is the only rejection sent on the wire.
	StatusReject Status = 30
)

// Accepted reports whether the hop agreed to participate.
func (s Status) Accepted() bool { return s == StatusAccept }

func (s Status) String() string {
	switch s {
	case StatusAccept:
		return "accept"
	case StatusReject:
		return "reject"
	}
	return fmt.Sprintf("status(%d)", byte(s))
}

// Envelope is a build request or reply in flight.
type Envelope [EnvelopeSize]byte

// Slot returns record i of the envelope.
func (e *Envelope) Slot(i int) []byte {
	return e[i*RecordSize : (i+1)*RecordSize]
}

// ParseEnvelope copies b into an Envelope.
func ParseEnvelope(b []byte) (*Envelope, error) {
	if len(b) != EnvelopeSize {
		return nil, failure.Wrapf(ErrSize, "%d bytes", len(b))
	}
	e := new(Envelope)
	copy(e[:], b)
	return e, nil
}

// HopSpec is one hop of a request: who it is and what it is told.
type HopSpec struct {
	Peer   identity.Public
	Record Record
}

// Request is an encoded build request plus what the creator needs to read
// the replies.
type Request struct {
	Envelope *Envelope
	slots    []int
	replyKey []session_key.SessionKey
	replyIV  [][16]byte
}

// Hops returns the hop count.
func (r *Request) Hops() int { return len(r.slots) }

// Slots returns the slot of each hop in hop order.
func (r *Request) Slots() []int { return append([]int(nil), r.slots...) }

// Zero wipes the reply keys.
func (r *Request) Zero() {
	for i := range r.replyKey {
		crypto.Zero(r.replyKey[i][:])
		crypto.Zero(r.replyIV[i][:])
	}
}

// EncodeBuildRequest seals one record per hop into a fresh envelope.
func EncodeBuildRequest(hops []HopSpec) (*Request, error) {
	if len(hops) < 1 || len(hops) > MaxHops {
		return nil, failure.Wrapf(ErrHopCount, "%d hops, want 1-%d", len(hops), MaxHops)
	}
	env := new(Envelope)
	if _, err := rand.Read(env[:]); err != nil {
		return nil, oops.In("build").Wrapf(err, "fill envelope")
	}
	req := &Request{
		Envelope: env,
		slots:    permutation(SlotCount)[:len(hops)],
		replyKey: make([]session_key.SessionKey, len(hops)),
		replyIV:  make([][16]byte, len(hops)),
	}
	for j, hop := range hops {
		req.replyKey[j] = hop.Record.ReplyKey
		req.replyIV[j] = hop.Record.ReplyIV

		rec, err := sealRecord(hop)
		if err != nil {
			return nil, err
		}
		// hop k will CBC encrypt this slot before it reaches hop j
		for k := j - 1; k >= 0; k-- {
			if err := crypto.CBCDecrypt(req.replyKey[k], req.replyIV[k], rec); err != nil {
				return nil, err
			}
		}
		copy(env.Slot(req.slots[j]), rec)
	}
	log.WithFields(logger.Fields{
		"at":    "EncodeBuildRequest",
		"hops":  len(hops),
		"slots": req.slots,
	}).Debug("build request encoded")
	return req, nil
}

func sealRecord(hop HopSpec) ([]byte, error) {
	eph, err := crypto.GenerateX25519()
	if err != nil {
		return nil, err
	}
	defer eph.Zero()
	shared, err := crypto.DH(eph.Private, hop.Peer.StaticKey)
	if err != nil {
		return nil, err
	}
	hash := hop.Peer.Hash()
	toPeer := hash[:ToPeerSize]
	key := recordKey(shared, toPeer, eph.Public[:])
	defer crypto.Zero32(&key)
	crypto.Zero32(&shared)

	clear, err := hop.Record.marshal()
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(clear)
	ad := append(append([]byte(nil), toPeer...), eph.Public[:]...)
	sealed, err := crypto.Seal(key[:], 0, ad, clear)
	if err != nil {
		return nil, err
	}
	rec := make([]byte, 0, RecordSize)
	rec = append(rec, ad...)
	return append(rec, sealed...), nil
}

// permutation returns a uniformly shuffled 0..n-1.
func permutation(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		p[i], p[j] = p[j], p[i]
	}
	return p
}

// DecodeOwnRecord finds and opens the record addressed to local.
func DecodeOwnRecord(env *Envelope, local identity.Provider) (*Record, int, error) {
	hash := local.Hash()
	toPeer := hash[:ToPeerSize]
	for slot := 0; slot < SlotCount; slot++ {
		rec := env.Slot(slot)
		if !bytes.Equal(rec[:ToPeerSize], toPeer) {
			continue
		}
		var eph [32]byte
		copy(eph[:], rec[ephemeralOffset:sealedOffset])
		shared, err := local.DH(eph)
		if err != nil {
			return nil, slot, failure.Wrap(ErrRecordAuth, err)
		}
		key := recordKey(shared, toPeer, eph[:])
		crypto.Zero32(&shared)
		clear, err := crypto.Open(key[:], 0, rec[:sealedOffset], rec[sealedOffset:])
		crypto.Zero32(&key)
		if err != nil {
			return nil, slot, failure.Wrapf(ErrRecordAuth, "slot %d", slot)
		}
		r := unmarshalRecord(clear)
		crypto.Zero(clear)
		return r, slot, nil
	}
	return nil, -1, ErrNotForMe
}

// EncodeReply writes this hop's answer into its slot and adds its reply
// layer to every other slot.
func EncodeReply(env *Envelope, slot int, rec *Record, status Status) error {
	if slot < 0 || slot >= SlotCount {
		return failure.Wrapf(ErrSlot, "slot %d", slot)
	}
	plain := make([]byte, replyPlainSize)
	if _, err := rand.Read(plain[:replyPlainSize-1]); err != nil {
		return oops.In("build").Wrapf(err, "reply padding")
	}
	plain[replyPlainSize-1] = byte(status)
	sealed, err := crypto.Seal(rec.ReplyKey[:], uint64(slot), nil, plain)
	if err != nil {
		return err
	}
	copy(env.Slot(slot), sealed)
	for i := 0; i < SlotCount; i++ {
		if i == slot {
			continue
		}
		if err := crypto.CBCEncrypt(rec.ReplyKey, rec.ReplyIV, env.Slot(i)); err != nil {
			return err
		}
	}
	return nil
}

// DecodeReplies strips the reply layers and returns each hop's status in
// hop order. It does not modify env.
func DecodeReplies(req *Request, env *Envelope) ([]Status, error) {
	n := len(req.slots)
	statuses := make([]Status, n)
	for i := 0; i < n; i++ {
		slot := req.slots[i]
		buf := append([]byte(nil), env.Slot(slot)...)
		for k := n - 1; k > i; k-- {
			if err := crypto.CBCDecrypt(req.replyKey[k], req.replyIV[k], buf); err != nil {
				return nil, err
			}
		}
		plain, err := crypto.Open(req.replyKey[i][:], uint64(slot), nil, buf)
		if err != nil {
			return nil, failure.Wrapf(ErrReplyAuth, "hop %d", i)
		}
		statuses[i] = Status(plain[replyPlainSize-1])
	}
	return statuses, nil
}
