package pd

import (
	"time"

	"github.com/tcnopen/trdpgo/addressing"
	"github.com/tcnopen/trdpgo/errcodes"
	"github.com/tcnopen/trdpgo/notify"
	"github.com/tcnopen/trdpgo/wire"
)

// TimeoutPolicy selects what happens to a subscription's cached frame
// when its receive timeout expires (spec.md §3, §4.3).
type TimeoutPolicy int

// Timeout policies.
const (
	// ZeroOut clears the cached payload and delivers it with Invalid set.
	ZeroOut TimeoutPolicy = iota
	// KeepLast delivers the previously cached payload unchanged.
	KeepLast
)

// Subscription is one entry in the PD receive queue (spec.md §3).
type Subscription struct {
	Handle  int
	Tuple   addressing.Tuple
	Timeout time.Duration
	Policy  TimeoutPolicy

	// Flags carries FlagRequestPending while a PD Request issued against
	// this subscription's ComId is still waiting on its Pull reply
	// (spec.md §4.2 "Pull/request semantics"); cleared the moment a
	// matching `Pp` frame is delivered.
	Flags Flags

	SocketIndex int

	deadline time.Time
	armed    bool // true once Timeout > 0

	lastSrc    addressing.IP
	seqList    *SeqCounterList
	cached     []byte
	cacheValid bool

	notifiedTimeout bool

	UserRef  interface{}
	Callback notify.Sink

	NumMissed   uint64
	NumCrcErr   uint64
	NumProtErr  uint64
	NumTopoErr  uint64
}

// NewSubscription creates a subscription. If timeout is zero, receive
// supervision is disabled and ApplyTimeout is a no-op (spec.md §4.3).
func NewSubscription(handle int, tuple addressing.Tuple, timeout time.Duration, policy TimeoutPolicy, userRef interface{}, cb notify.Sink, now time.Time) *Subscription {
	s := &Subscription{
		Handle:   handle,
		Tuple:    tuple,
		Timeout:  timeout,
		Policy:   policy,
		UserRef:  userRef,
		Callback: cb,
		seqList:  NewSeqCounterList(),
	}
	if timeout > 0 {
		s.armed = true
		s.deadline = now.Add(timeout)
	}
	return s
}

// Deadline returns the subscription's current timeout deadline. The zero
// Time is returned when supervision is disabled.
func (s *Subscription) Deadline() time.Time {
	if !s.armed {
		return time.Time{}
	}
	return s.deadline
}

func (s *Subscription) resetDeadline(now time.Time) {
	if s.armed {
		s.deadline = now.Add(s.Timeout)
	}
	s.notifiedTimeout = false
}

// protocolVersionOK reports whether v is a version this stack understands.
func protocolVersionOK(v uint16) bool {
	return v == wire.ProtocolVersion1 || v == wire.ProtocolVersionSvc
}

// OnFrame runs the full receive pipeline of spec.md §4.3 steps 3-6 for a
// frame that has already been header/data-CRC validated and matched to
// this subscription by ComID/destination/source (steps 1-2, done by the
// caller). It returns the event to deliver, if any, and whether it
// should actually be dispatched to Callback.
func (s *Subscription) OnFrame(header *wire.PDHeader, data []byte, src addressing.IP, now time.Time) (notify.Event, bool) {
	if !protocolVersionOK(header.ProtocolVersion) {
		s.NumProtErr++
		return notify.Event{}, false
	}

	frameTuple := addressing.Tuple{
		ComID:        header.ComID,
		EtbTopoCnt:   header.EtbTopoCnt,
		OpTrnTopoCnt: header.OpTrnTopoCnt,
	}
	if !s.Tuple.TopoMatches(frameTuple) {
		s.NumTopoErr++
		return notify.Event{
			Kind:      notify.PDDataReceived,
			Timestamp: now,
			ComID:     header.ComID,
			Source:    src,
			Code:      errcodes.TopoErr,
			Err:       errcodes.New(errcodes.TopoErr, "topology counter mismatch"),
			UserRef:   s.UserRef,
		}, true
	}

	dup, gap := s.seqList.IsDuplicate(src, uint16(header.MsgType), header.SequenceCounter)
	if dup {
		s.NumMissed += uint64(gap)
		return notify.Event{}, false
	}
	s.NumMissed += uint64(gap)

	s.seqList.Update(src, uint16(header.MsgType), header.SequenceCounter)
	s.lastSrc = src
	s.cached = append(s.cached[:0], data...)
	s.cacheValid = true
	s.resetDeadline(now)
	if header.MsgType == wire.MsgPDPull {
		s.Flags &^= FlagRequestPending
	}

	if s.Callback == nil {
		return notify.Event{}, false
	}
	return notify.Event{
		Kind:      notify.PDDataReceived,
		Timestamp: now,
		ComID:     header.ComID,
		Source:    src,
		Data:      append([]byte(nil), s.cached...),
		UserRef:   s.UserRef,
	}, true
}

// ApplyTimeout checks the subscription's deadline against now and, if it
// has passed and the user hasn't already been notified since the last
// good frame, applies the timeout policy and returns the event to
// deliver (spec.md §4.3): the subscription stays armed and does not fire
// again until a new frame arrives.
func (s *Subscription) ApplyTimeout(now time.Time) (notify.Event, bool) {
	if !s.armed || s.notifiedTimeout || now.Before(s.deadline) {
		return notify.Event{}, false
	}
	s.notifiedTimeout = true

	var data []byte
	invalid := false
	switch s.Policy {
	case ZeroOut:
		s.cached = s.cached[:0]
		s.cacheValid = false
		invalid = true
	case KeepLast:
		data = append([]byte(nil), s.cached...)
	}

	ev := notify.Event{
		Kind:      notify.PDTimeout,
		Timestamp: now,
		ComID:     s.Tuple.ComID,
		Data:      data,
		Invalid:   invalid,
		Code:      errcodes.TimeoutErr,
		Err:       errcodes.New(errcodes.TimeoutErr, "PD receive timeout"),
		UserRef:   s.UserRef,
	}
	if s.Callback == nil {
		return ev, false
	}
	return ev, true
}
