package md

import (
	"time"

	"github.com/tcnopen/trdpgo/addressing"
	"github.com/tcnopen/trdpgo/notify"
	"github.com/tcnopen/trdpgo/sessionid"
)

// Transport identifies which socket kind an MD session's frames travel
// over (spec.md §1/§2/§4.4: MD runs "over UDP and TCP"). A replier-side
// session records the transport its Mr arrived on so Reply/ReplyQuery
// answer over the same corner; a caller-side session records the
// transport Request sent its Mr on so Confirm and retries follow it.
type Transport int

// MD transports.
const (
	TransportUDP Transport = iota
	TransportTCP
)

func (t Transport) String() string {
	if t == TransportTCP {
		return "TCP"
	}
	return "UDP"
}

// Session is one in-flight MD transaction, caller-side or replier-side
// (spec.md §4.4, the MD session field list of spec.md §3). A caller-side
// session lives in Table.callerSessions; a replier-side one (spawned by a
// Listener matching an Mr) lives in Table.replierSessions.
type Session struct {
	ID        sessionid.ID
	Tuple     addressing.Tuple
	State     State
	Transport Transport

	// Source is the actual peer address a replier-side session's Mr
	// arrived from, the address Reply/ReplyQuery must answer to — the
	// Tuple's own DestIP is this node's listening address, not the
	// caller's. Zero (unused) for caller-side sessions, which already
	// know their peer via Tuple.DestIP.
	Source addressing.IP

	// SendDeadline/ReceiveDeadline are the session's two possible armed
	// deadlines: SendDeadline for a retry resend, ReceiveDeadline for the
	// reply, app-reply, or confirm the session is currently waiting on.
	SendDeadline    time.Time
	ReceiveDeadline time.Time

	ReplyTimeout   time.Duration
	ConfirmTimeout time.Duration

	// NumExpReplies is the caller-supplied expected-replier count; zero
	// means unknown (spec.md §4.4 "unknown-replier aggregation").
	NumExpReplies     int
	NumReplies        int
	NumReplyQueries   int
	NumConfirmSent    int
	NumConfirmTimeout int

	RetriesMax  int
	RetriesUsed int

	// Frame holds the last frame sent for this session, byte-identical on
	// a retry resend so the retry carries the same sequence counter as
	// the original send (spec.md §4.4).
	Frame []byte

	// ListenerHandle identifies the Listener this session was spawned
	// from; -1 for a caller-side session.
	ListenerHandle int

	UserRef  interface{}
	Callback notify.Sink

	// needsConfirm is set when a caller-side session received an Mq and
	// is waiting on the application to call Confirm.
	needsConfirm bool

	seenSources map[addressing.IP]bool
}

// repliesObserved is the combined count of distinct-source Mp and Mq
// replies seen so far, the "count" spec.md §4.4 compares against
// NumExpReplies.
func (s *Session) repliesObserved() int {
	return s.NumReplies + s.NumReplyQueries
}

// acceptSource reports whether src is a new replier for this session and,
// if so, records it. Retransmissions from an already-seen source must not
// double-count (spec.md §4.4 "Sources are deduped by IP").
func (s *Session) acceptSource(src addressing.IP) bool {
	if s.seenSources == nil {
		s.seenSources = make(map[addressing.IP]bool)
	}
	if s.seenSources[src] {
		return false
	}
	s.seenSources[src] = true
	return true
}
