package pd

import (
	"sync"
	"time"

	"github.com/tcnopen/trdpgo/addressing"
	"github.com/tcnopen/trdpgo/errcodes"
	"github.com/tcnopen/trdpgo/notify"
	"github.com/tcnopen/trdpgo/wire"
)

// SendQueue is the ordered set of publications with their next-send
// deadlines (spec.md §3's PD send queue).
type SendQueue struct {
	mu         sync.Mutex
	pubs       map[int]*Publication
	nextHandle int
	counters   *OutboundCounters
	reqCounters *RequestCounters
}

// NewSendQueue creates an empty send queue.
func NewSendQueue() *SendQueue {
	return &SendQueue{
		pubs:        make(map[int]*Publication),
		counters:    NewOutboundCounters(),
		reqCounters: NewRequestCounters(),
	}
}

// Publish creates a publication and inserts it into the queue with
// deadline = now + interval (spec.md §4.2). It seeds the outbound
// sequence counter from any existing publication sharing the same
// (comId, msgType, srcIP) tuple, so redundant publications stay in
// lockstep.
func (q *SendQueue) Publish(tuple addressing.Tuple, interval time.Duration, redundancyGroup uint32, msgType wire.MsgType, data []byte, flags Flags, now time.Time) (*Publication, error) {
	if len(data) > wire.MaxPDDatasetLength {
		return nil, errcodes.New(errcodes.ParamErr, "dataset exceeds MaxPDDatasetLength")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	handle := q.nextHandle
	q.nextHandle++
	p := NewPublication(handle, tuple, interval, redundancyGroup, msgType, data, flags, now)
	q.counters.Seed(p.SeqKey())
	q.pubs[handle] = p
	return p, nil
}

// Unpublish removes a publication from the queue.
func (q *SendQueue) Unpublish(handle int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pubs[handle]; !ok {
		return errcodes.New(errcodes.NoPubErr, "unknown publication handle")
	}
	delete(q.pubs, handle)
	return nil
}

// Get returns the publication for handle, or nil.
func (q *SendQueue) Get(handle int) *Publication {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pubs[handle]
}

// Due returns every publication whose NextFire deadline has passed,
// for the work loop's send tick (spec.md §4.1, §4.2). On-demand
// publications (Interval == 0) are never returned here; fire them
// explicitly via Get+Fire.
func (q *SendQueue) Due(now time.Time) []*Publication {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []*Publication
	for _, p := range q.pubs {
		if p.Interval > 0 && !p.NextFire.After(now) {
			due = append(due, p)
		}
	}
	return due
}

// Counters returns the queue's shared outbound sequence-counter table.
func (q *SendQueue) Counters() *OutboundCounters { return q.counters }

// BuildRequest builds a one-shot PD Request (`Pr`) frame: identical to a
// publication frame except for its msgType and the reply ComId/address
// it carries, and sequenced from the dedicated per-comId request counter
// list rather than the publication counter (spec.md §4.2 "Pull/request
// semantics", §4.6 "PD Request outbound counters").
func (q *SendQueue) BuildRequest(tuple addressing.Tuple, replyComID uint32, replyIP addressing.IP, data []byte) ([]byte, error) {
	if len(data) > wire.MaxPDDatasetLength {
		return nil, errcodes.New(errcodes.ParamErr, "dataset exceeds MaxPDDatasetLength")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	header := wire.PDHeader{
		ProtocolVersion: wire.ProtocolVersion1,
		MsgType:         wire.MsgPDRequest,
		SequenceCounter: q.reqCounters.Advance(tuple.ComID),
		ComID:           tuple.ComID,
		EtbTopoCnt:      tuple.EtbTopoCnt,
		OpTrnTopoCnt:    tuple.OpTrnTopoCnt,
		ReplyComID:      replyComID,
		ReplyIPAddr:     uint32(replyIP),
	}
	return BuildFrame(&header, data), nil
}

// BuildPullReply builds a PD Pull (`Pp`) frame answering an inbound PD
// Request, carrying pub's current data under replyComID — the ComId the
// requester asked the reply be addressed to (spec.md §4.2 "the receiving
// peer responds with a PD Pull reply"). Its sequence counter advances
// the same per-(comId, msgType, srcIP) table a cyclic Pp publication
// would use.
func (q *SendQueue) BuildPullReply(pub *Publication, replyComID uint32, srcIP addressing.IP) []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := addressing.SendKey{ComID: replyComID, MsgType: uint16(wire.MsgPDPull), SrcIP: srcIP}
	header := wire.PDHeader{
		ProtocolVersion: wire.ProtocolVersion1,
		MsgType:         wire.MsgPDPull,
		SequenceCounter: q.counters.Advance(key),
		ComID:           replyComID,
		EtbTopoCnt:      pub.Tuple.EtbTopoCnt,
		OpTrnTopoCnt:    pub.Tuple.OpTrnTopoCnt,
	}
	return BuildFrame(&header, pub.Data())
}

// FindByComID returns the first publication whose tuple advertises
// comID, for answering an inbound PD Request with that publication's
// current data. Returns nil if no publication matches.
func (q *SendQueue) FindByComID(comID uint32) *Publication {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range q.pubs {
		if p.Tuple.ComID == comID {
			return p
		}
	}
	return nil
}

// All returns every publication currently in the queue, for statistics
// snapshots and diagnostics.
func (q *SendQueue) All() []*Publication {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Publication, 0, len(q.pubs))
	for _, p := range q.pubs {
		out = append(out, p)
	}
	return out
}

// NextDeadline returns the earliest NextFire among all cyclic
// publications, or the zero Time if none are armed.
func (q *SendQueue) NextDeadline() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	var earliest time.Time
	for _, p := range q.pubs {
		if p.Interval == 0 {
			continue
		}
		if earliest.IsZero() || p.NextFire.Before(earliest) {
			earliest = p.NextFire
		}
	}
	return earliest
}

// ReceiveQueue is the set of subscriptions with their receive-timeout
// deadlines and last-received frames (spec.md §3's PD receive queue).
type ReceiveQueue struct {
	mu         sync.Mutex
	subs       map[int]*Subscription
	nextHandle int

	NumNoSubs uint64
}

// NewReceiveQueue creates an empty receive queue.
func NewReceiveQueue() *ReceiveQueue {
	return &ReceiveQueue{subs: make(map[int]*Subscription)}
}

// Subscribe installs a subscription (spec.md §4.3).
func (q *ReceiveQueue) Subscribe(tuple addressing.Tuple, timeout time.Duration, policy TimeoutPolicy, userRef interface{}, cb notify.Sink, now time.Time) *Subscription {
	q.mu.Lock()
	defer q.mu.Unlock()
	handle := q.nextHandle
	q.nextHandle++
	s := NewSubscription(handle, tuple, timeout, policy, userRef, cb, now)
	q.subs[handle] = s
	return s
}

// Unsubscribe removes a subscription.
func (q *ReceiveQueue) Unsubscribe(handle int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.subs[handle]; !ok {
		return errcodes.New(errcodes.NoSubErr, "unknown subscription handle")
	}
	delete(q.subs, handle)
	return nil
}

// Get returns the subscription for handle, or nil.
func (q *ReceiveQueue) Get(handle int) *Subscription {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.subs[handle]
}

// SetRequestPending sets FlagRequestPending on every subscription
// watching comID, marking that a PD Request was just sent asking for a
// Pull reply under that ComId (spec.md §4.2). The flag is cleared again
// by Subscription.OnFrame once the matching `Pp` arrives.
func (q *ReceiveQueue) SetRequestPending(comID uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, s := range q.subs {
		if s.Tuple.ComID == comID {
			s.Flags |= FlagRequestPending
		}
	}
}

// All returns every subscription currently in the queue, for statistics
// snapshots and diagnostics.
func (q *ReceiveQueue) All() []*Subscription {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Subscription, 0, len(q.subs))
	for _, s := range q.subs {
		out = append(out, s)
	}
	return out
}

// Dispatch matches an inbound PD frame against every subscription
// (spec.md §4.3 step 2) and runs the receive pipeline on every matching
// subscription. It returns the events to deliver (usually zero or one; zero
// when the frame is a duplicate or a version/no-match discard) together
// with each event's destination Sink.
func (q *ReceiveQueue) Dispatch(header *wire.PDHeader, data []byte, src addressing.IP, now time.Time) []dispatched {
	q.mu.Lock()
	defer q.mu.Unlock()

	frameTuple := addressing.Tuple{ComID: header.ComID, DestIP: 0}
	matched := false
	var out []dispatched
	for _, s := range q.subs {
		if !s.Tuple.Matches(frameTuple, src) {
			continue
		}
		matched = true
		ev, deliver := s.OnFrame(header, data, src, now)
		if deliver {
			out = append(out, dispatched{sink: s.Callback, event: ev})
		}
	}
	if !matched {
		q.NumNoSubs++
	}
	return out
}

// dispatched pairs an event with the sink that should receive it.
type dispatched struct {
	sink  notify.Sink
	event notify.Event
}

// Send delivers d to its sink, if any.
func (d dispatched) Send() {
	if d.sink != nil {
		d.sink(d.event)
	}
}

// Event returns the notification event d carries, for callers that want
// to inspect or label it (e.g. metrics) without being able to name the
// unexported dispatched type itself.
func (d dispatched) Event() notify.Event { return d.event }

// CheckTimeouts walks every subscription and applies ApplyTimeout,
// returning the events that fired this tick.
func (q *ReceiveQueue) CheckTimeouts(now time.Time) []dispatched {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []dispatched
	for _, s := range q.subs {
		ev, deliver := s.ApplyTimeout(now)
		if deliver {
			out = append(out, dispatched{sink: s.Callback, event: ev})
		}
	}
	return out
}

// NextDeadline returns the earliest subscription timeout deadline, or
// the zero Time if no subscription is supervised.
func (q *ReceiveQueue) NextDeadline() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	var earliest time.Time
	for _, s := range q.subs {
		d := s.Deadline()
		if d.IsZero() {
			continue
		}
		if earliest.IsZero() || d.Before(earliest) {
			earliest = d
		}
	}
	return earliest
}
