package md

import (
	"time"

	"github.com/tcnopen/trdpgo/addressing"
	"github.com/tcnopen/trdpgo/notify"
)

// Listener is an armed replier-side entry in the MD receive queue
// (spec.md §4.4): "a listener(addressing, userRef, callback) is added to
// the listener queue with state RX_READY". It never retires on its own;
// each matching Mr spawns a Session that clones it.
type Listener struct {
	Handle int
	Tuple  addressing.Tuple

	// ReplyTimeout bounds how long the application has to call Reply or
	// ReplyQuery after a matching Mr spawns a session.
	ReplyTimeout time.Duration
	// ConfirmTimeout bounds how long this listener waits for Mc after it
	// sends a ReplyQuery (Mq).
	ConfirmTimeout time.Duration

	UserRef  interface{}
	Callback notify.Sink

	SocketIndex int
}
