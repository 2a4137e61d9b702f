// Package notify models the single callback sink that the PD and MD
// engines use to tell the host application about data, timeouts, and
// completions. Rather than threading raw context pointers through
// per-kind callback signatures, every event is a Kind tag plus its own
// payload fields on one Event struct, and the application supplies one
// Sink function (spec.md §9 Design Notes): the same shape as
// eventsocket.FlowEvent's TCPEvent tag plus optional fields, generalised
// from "TCP opened/closed" to the PD/MD event set.
package notify

import (
	"time"

	"github.com/tcnopen/trdpgo/addressing"
	"github.com/tcnopen/trdpgo/errcodes"
	"github.com/tcnopen/trdpgo/sessionid"
)

// Kind identifies which variant of Event this is. Only the fields
// documented for that Kind are meaningful; the rest are zero.
type Kind int

// Event kinds.
const (
	// PDDataReceived fires when a subscription accepts a fresh PD frame.
	// Fields: ComID, Source, Data, UserRef. It also fires, with Data nil
	// and Err = TOPO_ERR, when a matched frame fails topology validation.
	PDDataReceived Kind = iota
	// PDTimeout fires once when a subscription's receive timeout expires.
	// Fields: ComID, Data (per timeout policy), Err = TIMEOUT_ERR, UserRef.
	PDTimeout
	// MDRequestReceived fires on a listener when a matching Mr arrives.
	// Fields: ComID, Source, Data, SessionID, UserRef.
	MDRequestReceived
	// MDNotifyReceived fires on a listener when a matching Mn arrives.
	// Fields: ComID, Source, Data, UserRef.
	MDNotifyReceived
	// MDReplyReceived fires on the caller side for each Mp/Mq received.
	// Fields: ComID, Source, Data, SessionID, NumReplies, UserRef.
	MDReplyReceived
	// MDCompleted fires exactly once when a caller-side session retires.
	// Fields: SessionID, Err (NO_ERR/REPLYTO_ERR/...), NumReplies, UserRef.
	MDCompleted
	// MDConfirmTimeout fires on the replier side when a sent Mq's confirm
	// deadline elapses without a matching Mc.
	// Fields: SessionID, Err = CONFIRMTO_ERR, UserRef.
	MDConfirmTimeout
	// MDAppReplyTimeout fires on the replier side when a matched Mr's
	// deadline elapses without the application calling reply/replyQuery.
	// Fields: SessionID, Err = APP_REPLYTO_ERR, UserRef.
	MDAppReplyTimeout
)

func (k Kind) String() string {
	switch k {
	case PDDataReceived:
		return "PDDataReceived"
	case PDTimeout:
		return "PDTimeout"
	case MDRequestReceived:
		return "MDRequestReceived"
	case MDNotifyReceived:
		return "MDNotifyReceived"
	case MDReplyReceived:
		return "MDReplyReceived"
	case MDCompleted:
		return "MDCompleted"
	case MDConfirmTimeout:
		return "MDConfirmTimeout"
	case MDAppReplyTimeout:
		return "MDAppReplyTimeout"
	default:
		return "Unknown"
	}
}

// Event is the single notification type dispatched through a Sink. Only
// the fields relevant to Kind are populated; see the Kind constants.
type Event struct {
	Kind      Kind
	Timestamp time.Time

	ComID  uint32
	Source addressing.IP

	Data    []byte
	Invalid bool // true when Data reflects a zero-out timeout policy

	SessionID  sessionid.ID
	NumReplies int

	Code errcodes.Code
	Err  error

	UserRef interface{}
}

// Sink receives every PD/MD notification for one session. Implementations
// must not block: they run on the work loop's goroutine (spec.md §5).
type Sink func(Event)
