package block

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/util/clock"
)

// Reason is a termination reason code.
type Reason byte

const (
	ReasonNormalClose           Reason = 0
	ReasonTerminationReceived   Reason = 1
	ReasonIdleTimeout           Reason = 2
	ReasonRouterShutdown        Reason = 3
	ReasonAEADFailure           Reason = 4
	ReasonOptionsError          Reason = 5
	ReasonSignatureError        Reason = 6
	ReasonClockSkew             Reason = 7
	ReasonSuperseded            Reason = 8
	ReasonFrameTimeout          Reason = 11
	ReasonPayloadFormatError    Reason = 12
	ReasonMessage1Error         Reason = 13
	ReasonMessage2Error         Reason = 14
	ReasonMessage3Error         Reason = 15
	ReasonFrameLengthOutOfRange Reason = 16
	ReasonPaddingViolation      Reason = 17
)

var reasonNames = map[Reason]string{
	ReasonNormalClose:           "normal close",
	ReasonTerminationReceived:   "termination received",
	ReasonIdleTimeout:           "idle timeout",
	ReasonRouterShutdown:        "router shutdown",
	ReasonAEADFailure:           "AEAD failure",
	ReasonOptionsError:          "options error",
	ReasonSignatureError:        "signature error",
	ReasonClockSkew:             "clock skew",
	ReasonSuperseded:            "superseded by new session",
	ReasonFrameTimeout:          "frame timeout",
	ReasonPayloadFormatError:    "payload format error",
	ReasonMessage1Error:         "message 1 error",
	ReasonMessage2Error:         "message 2 error",
	ReasonMessage3Error:         "message 3 error",
	ReasonFrameLengthOutOfRange: "frame length out of range",
	ReasonPaddingViolation:      "padding violation",
}

func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("reason(%d)", byte(r))
}

// Termination tells the peer the session is ending.
type Termination struct {
	// FramesReceived is how many frames the sender authenticated.
	FramesReceived uint64
	NetworkID      byte
	Time           time.Time
	Reason         Reason
}

const terminationSize = 14

// Block encodes the termination as a block.
func (t Termination) Block() Block {
	data := make([]byte, terminationSize)
	binary.BigEndian.PutUint64(data[0:8], t.FramesReceived)
	data[8] = t.NetworkID
	binary.BigEndian.PutUint32(data[9:13], clock.Unix32(t.Time))
	data[13] = byte(t.Reason)
	return Block{Type: TypeTermination, Data: data}
}

// ParseTermination decodes a Termination block body.
func ParseTermination(data []byte) (Termination, error) {
	if len(data) < terminationSize {
		return Termination{}, failure.Wrapf(ErrBadSize, "termination block is %d bytes", len(data))
	}
	return Termination{
		FramesReceived: binary.BigEndian.Uint64(data[0:8]),
		NetworkID:      data[8],
		Time:           clock.FromUnix32(binary.BigEndian.Uint32(data[9:13])),
		Reason:         Reason(data[13]),
	}, nil
}
