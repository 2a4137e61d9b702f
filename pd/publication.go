package pd

import (
	"time"

	"github.com/tcnopen/trdpgo/addressing"
	"github.com/tcnopen/trdpgo/errcodes"
	"github.com/tcnopen/trdpgo/wire"
)

// Flags is the publication/subscription flag set from spec.md §3.
type Flags uint8

// Publication/subscription flags.
const (
	FlagTSN Flags = 1 << iota
	FlagMarshalled
	FlagMulticastJoined
	FlagRedundant
	FlagRequestPending
)

// Has reports whether bit is set in f.
func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// RedundancyPolicy decides, for a given redundancy group, whether this
// session is currently the transmitting leader. spec.md §9 leaves
// leader/follower promotion as an externally supplied policy; the core
// only consumes the decision on each send tick.
type RedundancyPolicy interface {
	IsLeader(group uint32) bool
}

// StaticLeader is the simplest RedundancyPolicy: every group is led (or
// not) according to a single fixed flag, matching the original's
// simplest ladder-topology configuration where leadership is set
// externally once and does not change while the session runs.
type StaticLeader bool

// IsLeader implements RedundancyPolicy.
func (s StaticLeader) IsLeader(uint32) bool { return bool(s) }

// Publication is one entry in the PD send queue (spec.md §3).
type Publication struct {
	Handle   int
	Tuple    addressing.Tuple
	Interval time.Duration
	NextFire time.Time

	RedundancyGroup uint32
	Flags           Flags

	SocketIndex int

	header wire.PDHeader
	data   []byte

	NumSend    uint64
	NumRxTx    uint64
	NumSendErr uint64
	LastErr    error
}

// NewPublication creates a publication armed to fire at now+interval. An
// interval of zero means on-demand only: the caller is responsible for
// never scheduling it except via an explicit request.
func NewPublication(handle int, tuple addressing.Tuple, interval time.Duration, redundancyGroup uint32, msgType wire.MsgType, data []byte, flags Flags, now time.Time) *Publication {
	p := &Publication{
		Handle:          handle,
		Tuple:           tuple,
		Interval:        interval,
		RedundancyGroup: redundancyGroup,
		Flags:           flags,
		header: wire.PDHeader{
			ProtocolVersion: wire.ProtocolVersion1,
			MsgType:         msgType,
			ComID:           tuple.ComID,
			EtbTopoCnt:      tuple.EtbTopoCnt,
			OpTrnTopoCnt:    tuple.OpTrnTopoCnt,
		},
	}
	p.data = append([]byte(nil), data...)
	if interval > 0 {
		p.NextFire = now.Add(interval)
	}
	return p
}

// Put replaces the publication's payload. It does not transmit (spec.md
// §4.2): the new data is picked up on the next send tick.
func (p *Publication) Put(data []byte) error {
	if len(data) > wire.MaxPDDatasetLength {
		return errcodes.New(errcodes.ParamErr, "dataset exceeds MaxPDDatasetLength")
	}
	p.data = append(p.data[:0], data...)
	return nil
}

// Data returns the publication's current payload.
func (p *Publication) Data() []byte { return p.data }

// SeqKey returns the outbound sequence-counter key this publication
// shares with any other redundant publication of the same tuple.
func (p *Publication) SeqKey() addressing.SendKey {
	return addressing.SendKey{
		ComID:   p.Tuple.ComID,
		MsgType: uint16(p.header.MsgType),
		SrcIP:   p.Tuple.SrcIP,
	}
}

// Fire advances the publication's sequence counter and next deadline,
// and builds the frame to send this tick. suppressed is true when the
// publication belongs to a redundancy group this session does not
// currently lead: the counter and deadline still advance, but the caller
// must not actually transmit the returned frame (spec.md §4.2).
func (p *Publication) Fire(counters *OutboundCounters, policy RedundancyPolicy, now time.Time) (frame []byte, suppressed bool) {
	key := p.SeqKey()
	seq := counters.Advance(key)
	p.header.SequenceCounter = seq

	if p.Interval > 0 {
		p.NextFire = now.Add(p.Interval)
	}

	suppressed = p.Flags.Has(FlagRedundant) && policy != nil && !policy.IsLeader(p.RedundancyGroup)
	frame = BuildFrame(&p.header, p.data)
	if !suppressed {
		p.NumSend++
		p.NumRxTx++
	}
	return frame, suppressed
}

// RecordSendError records a non-blocking send failure without retrying
// within the same tick (spec.md §4.2).
func (p *Publication) RecordSendError(err error) {
	p.NumSendErr++
	p.LastErr = err
}
