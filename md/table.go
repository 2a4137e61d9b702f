package md

import (
	"sync"
	"time"

	"github.com/tcnopen/trdpgo/addressing"
	"github.com/tcnopen/trdpgo/errcodes"
	"github.com/tcnopen/trdpgo/notify"
	"github.com/tcnopen/trdpgo/sessionid"
	"github.com/tcnopen/trdpgo/wire"
)

// dispatched pairs a notification event with the sink that should receive
// it, the same shape pd.dispatched uses.
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

// Retry is a request session whose reply timeout elapsed with nothing
// received yet and retry budget remaining: the session layer should
// resend Frame to Tuple's destination.
type Retry struct {
	Session *Session
	Frame   []byte
}

// Table is the MD session/listener table of spec.md §3 and §4.4: the
// caller-send queue, the replier-receive (listener) queue, and the
// sessions a matching Mr spawns from a listener.
type Table struct {
	mu  sync.Mutex
	gen *sessionid.Generator

	nextSeq uint32

	callerSessions  map[sessionid.ID]*Session
	replierSessions map[sessionid.ID]*Session

	listeners          map[int]*Listener
	nextListenerHandle int

	MaxDatasetLength int
}

// NewTable creates an empty MD table. gen mints session identifiers; pass
// sessionid.NewGenerator() in production and a fixed-output stub in tests.
func NewTable(gen *sessionid.Generator) *Table {
	return &Table{
		gen:              gen,
		callerSessions:   make(map[sessionid.ID]*Session),
		replierSessions:  make(map[sessionid.ID]*Session),
		listeners:        make(map[int]*Listener),
		MaxDatasetLength: wire.DefaultMaxMDDatasetLength,
	}
}

func (t *Table) nextSequence() uint32 {
	t.nextSeq++
	return t.nextSeq
}

func (t *Table) checkLength(data []byte) error {
	if len(data) > t.MaxDatasetLength {
		return errcodes.New(errcodes.PacketErr, "MD dataset exceeds configured maximum")
	}
	return nil
}

func (t *Table) buildHeader(tuple addressing.Tuple, msgType wire.MsgType, id sessionid.ID, replyTimeout time.Duration, sourceURI, destURI string) *wire.MDHeader {
	h := &wire.MDHeader{
		SequenceCounter: t.nextSequence(),
		ProtocolVersion: wire.ProtocolVersion1,
		MsgType:         msgType,
		ComID:           tuple.ComID,
		EtbTopoCnt:      tuple.EtbTopoCnt,
		OpTrnTopoCnt:    tuple.OpTrnTopoCnt,
		SessionID:       id,
		ReplyTimeout:    uint32(replyTimeout / time.Millisecond),
	}
	h.SetSourceURI(sourceURI)
	h.SetDestinationURI(destURI)
	return h
}

// AddListener arms a replier-side listener (spec.md §4.4 RX_READY).
func (t *Table) AddListener(tuple addressing.Tuple, replyTimeout, confirmTimeout time.Duration, userRef interface{}, cb notify.Sink) *Listener {
	t.mu.Lock()
	defer t.mu.Unlock()
	handle := t.nextListenerHandle
	t.nextListenerHandle++
	l := &Listener{
		Handle:         handle,
		Tuple:          tuple,
		ReplyTimeout:   replyTimeout,
		ConfirmTimeout: confirmTimeout,
		UserRef:        userRef,
		Callback:       cb,
	}
	t.listeners[handle] = l
	return l
}

// RemoveListener detaches a listener. In-flight sessions it already
// spawned are unaffected.
func (t *Table) RemoveListener(handle int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.listeners[handle]; !ok {
		return errcodes.New(errcodes.NoListErr, "unknown listener handle")
	}
	delete(t.listeners, handle)
	return nil
}

// Notify sends a one-shot Mn and retires immediately; no session is kept
// (spec.md §4.4: "notify(...) -> TX_NOTIFY_ARM -> send Mn -> immediately retire").
func (t *Table) Notify(tuple addressing.Tuple, sourceURI, destURI string, data []byte, now time.Time) ([]byte, error) {
	if err := t.checkLength(data); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.gen.New()
	h := t.buildHeader(tuple, wire.MsgMDNotify, id, 0, sourceURI, destURI)
	return BuildFrame(h, data), nil
}

// Request arms a caller-side session and returns the Mr frame to send
// (spec.md §4.4: "request(...) -> TX_REQUEST_ARM -> send Mr ->
// TX_REQUEST_W4REPLY with deadline = now + replyTimeout"). numExpReplies
// of zero means unknown-replier aggregation.
func (t *Table) Request(tuple addressing.Tuple, sourceURI, destURI string, data []byte, numExpReplies int, replyTimeout, confirmTimeout time.Duration, retriesMax int, transport Transport, userRef interface{}, cb notify.Sink, now time.Time) (*Session, []byte, error) {
	if err := t.checkLength(data); err != nil {
		return nil, nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.gen.New()
	h := t.buildHeader(tuple, wire.MsgMDRequest, id, replyTimeout, sourceURI, destURI)
	frame := BuildFrame(h, data)

	s := &Session{
		ID:              id,
		Tuple:           tuple,
		State:           TxRequestW4Reply,
		Transport:       transport,
		ReceiveDeadline: now.Add(replyTimeout),
		ReplyTimeout:    replyTimeout,
		ConfirmTimeout:  confirmTimeout,
		NumExpReplies:   numExpReplies,
		RetriesMax:      retriesMax,
		Frame:           frame,
		ListenerHandle:  -1,
		UserRef:         userRef,
		Callback:        cb,
	}
	t.callerSessions[id] = s
	return s, frame, nil
}

// Confirm sends the Mc the application owes after receiving an Mq
// (spec.md §4.4). It is an error to call it for a session that isn't
// waiting on a confirm.
func (t *Table) Confirm(id sessionid.ID, sourceURI, destURI string, now time.Time) ([]byte, []dispatched, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.callerSessions[id]
	if !ok {
		return nil, nil, errcodes.New(errcodes.NoSessionErr, "unknown MD session")
	}
	if !s.needsConfirm {
		return nil, nil, errcodes.New(errcodes.StateErr, "session has no pending confirm")
	}

	h := t.buildHeader(s.Tuple, wire.MsgMDConfirm, id, 0, sourceURI, destURI)
	frame := BuildFrame(h, nil)
	s.needsConfirm = false
	s.NumConfirmSent++

	var events []dispatched
	if t.callerComplete(s) {
		events = append(events, t.retireCaller(s, errcodes.NoErr, now))
	}
	return frame, events, nil
}

// callerComplete reports whether a caller-side session has received every
// reply it is waiting on and has no outstanding confirm obligation.
func (t *Table) callerComplete(s *Session) bool {
	if s.needsConfirm {
		return false
	}
	if s.NumExpReplies == 0 {
		return false // unknown aggregation only completes on timeout
	}
	return s.repliesObserved() >= s.NumExpReplies
}

func (t *Table) retireCaller(s *Session, code errcodes.Code, now time.Time) dispatched {
	delete(t.callerSessions, s.ID)
	var err error
	if code != errcodes.NoErr {
		err = errcodes.New(code, "")
	}
	return dispatched{
		sink: s.Callback,
		event: notify.Event{
			Kind:       notify.MDCompleted,
			Timestamp:  now,
			ComID:      s.Tuple.ComID,
			SessionID:  s.ID,
			NumReplies: s.repliesObserved(),
			Code:       code,
			Err:        err,
			UserRef:    s.UserRef,
		},
	}
}

// Reply sends an Mp answering a matched Mr and retires the replier-side
// session (spec.md §4.4).
func (t *Table) Reply(id sessionid.ID, sourceURI, destURI string, data []byte, now time.Time) ([]byte, error) {
	if err := t.checkLength(data); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.replierSessions[id]
	if !ok || s.State != RxReqW4APReply {
		return nil, errcodes.New(errcodes.NoSessionErr, "unknown or already-answered MD session")
	}
	h := t.buildHeader(s.Tuple, wire.MsgMDReply, id, 0, sourceURI, destURI)
	frame := BuildFrame(h, data)
	delete(t.replierSessions, id)
	return frame, nil
}

// ReplyQuery sends an Mq answering a matched Mr and arms the session to
// wait for the caller's Mc (spec.md §4.4: RX_REPLYQUERY_W4C).
func (t *Table) ReplyQuery(id sessionid.ID, sourceURI, destURI string, data []byte, now time.Time) ([]byte, error) {
	if err := t.checkLength(data); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.replierSessions[id]
	if !ok || s.State != RxReqW4APReply {
		return nil, errcodes.New(errcodes.NoSessionErr, "unknown or already-answered MD session")
	}
	h := t.buildHeader(s.Tuple, wire.MsgMDReplyConfirm, id, 0, sourceURI, destURI)
	frame := BuildFrame(h, data)
	s.State = RxReplyQueryW4C
	s.ReceiveDeadline = now.Add(s.ConfirmTimeout)
	return frame, nil
}

// AbortSession discards an in-flight session with no further callbacks
// (spec.md §4.4 Cancellation).
func (t *Table) AbortSession(id sessionid.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.callerSessions, id)
	delete(t.replierSessions, id)
}

// matchListener returns the first listener matching an inbound header's
// addressing, applying both the comId/dest/source pipeline stage and the
// topology stage (spec.md §4.3's two-stage matching, reused here for MD).
func (t *Table) matchListener(header *wire.MDHeader, src addressing.IP) *Listener {
	frameTuple := addressing.Tuple{
		ComID:        header.ComID,
		EtbTopoCnt:   header.EtbTopoCnt,
		OpTrnTopoCnt: header.OpTrnTopoCnt,
	}
	for _, l := range t.listeners {
		if l.Tuple.Matches(frameTuple, src) && l.Tuple.TopoMatches(frameTuple) {
			return l
		}
	}
	return nil
}

// OnInbound dispatches one decoded MD frame against the listener queue
// and the in-flight session tables (spec.md §4.4).
func (t *Table) OnInbound(header *wire.MDHeader, data []byte, src addressing.IP, transport Transport, now time.Time) []dispatched {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch header.MsgType {
	case wire.MsgMDNotify:
		l := t.matchListener(header, src)
		if l == nil || l.Callback == nil {
			return nil
		}
		return []dispatched{{sink: l.Callback, event: notify.Event{
			Kind: notify.MDNotifyReceived, Timestamp: now,
			ComID: header.ComID, Source: src, Data: append([]byte(nil), data...),
			UserRef: l.UserRef,
		}}}

	case wire.MsgMDRequest:
		l := t.matchListener(header, src)
		if l == nil {
			return nil
		}
		s := &Session{
			ID:              header.SessionID,
			Tuple:           l.Tuple,
			State:           RxReqW4APReply,
			Transport:       transport,
			Source:          src,
			ReceiveDeadline: now.Add(l.ReplyTimeout),
			ReplyTimeout:    l.ReplyTimeout,
			ConfirmTimeout:  l.ConfirmTimeout,
			ListenerHandle:  l.Handle,
			UserRef:         l.UserRef,
		}
		t.replierSessions[s.ID] = s
		if l.Callback == nil {
			return nil
		}
		return []dispatched{{sink: l.Callback, event: notify.Event{
			Kind: notify.MDRequestReceived, Timestamp: now,
			ComID: header.ComID, Source: src, Data: append([]byte(nil), data...),
			SessionID: s.ID, UserRef: l.UserRef,
		}}}

	case wire.MsgMDReply, wire.MsgMDReplyConfirm:
		s, ok := t.callerSessions[header.SessionID]
		if !ok || s.State != TxRequestW4Reply {
			return nil
		}
		if !s.acceptSource(src) {
			return nil // deduped retransmission
		}
		if header.MsgType == wire.MsgMDReply {
			s.NumReplies++
		} else {
			s.NumReplyQueries++
			s.needsConfirm = true
			s.ReceiveDeadline = now.Add(s.ConfirmTimeout)
		}

		out := []dispatched{{sink: s.Callback, event: notify.Event{
			Kind: notify.MDReplyReceived, Timestamp: now,
			ComID: header.ComID, Source: src, Data: append([]byte(nil), data...),
			SessionID: s.ID, NumReplies: s.repliesObserved(), UserRef: s.UserRef,
		}}}
		if t.callerComplete(s) {
			out = append(out, t.retireCaller(s, errcodes.NoErr, now))
		}
		return out

	case wire.MsgMDConfirm:
		s, ok := t.replierSessions[header.SessionID]
		if !ok || s.State != RxReplyQueryW4C {
			return nil
		}
		delete(t.replierSessions, s.ID)
		return nil

	default:
		return nil
	}
}

// CheckTimeouts expires every session whose deadline has passed: caller
// sessions awaiting a reply or a confirm, and replier sessions awaiting
// the application's answer or the caller's confirm (spec.md §4.4, §4.1).
// Callers must Send() every returned event and resend every returned
// Retry's Frame to its Session.Tuple destination.
func (t *Table) CheckTimeouts(now time.Time) ([]dispatched, []Retry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var events []dispatched
	var retries []Retry

	for _, s := range t.callerSessions {
		if s.needsConfirm {
			if !now.Before(s.ReceiveDeadline) {
				events = append(events, t.retireCaller(s, errcodes.ReqConfirmToErr, now))
			}
			continue
		}
		if s.State != TxRequestW4Reply || now.Before(s.ReceiveDeadline) {
			continue
		}
		if s.repliesObserved() == 0 && s.RetriesUsed < s.RetriesMax {
			s.RetriesUsed++
			s.ReceiveDeadline = now.Add(s.ReplyTimeout)
			retries = append(retries, Retry{Session: s, Frame: s.Frame})
			continue
		}
		code := errcodes.NoErr
		if s.NumExpReplies == 0 && s.repliesObserved() == 0 {
			code = errcodes.ReplyToErr
		} else if s.NumExpReplies > 0 && s.repliesObserved() < s.NumExpReplies {
			code = errcodes.ReplyToErr
		}
		events = append(events, t.retireCaller(s, code, now))
	}

	for id, s := range t.replierSessions {
		if now.Before(s.ReceiveDeadline) {
			continue
		}
		switch s.State {
		case RxReqW4APReply:
			delete(t.replierSessions, id)
			events = append(events, dispatched{sink: t.listenerCallback(s.ListenerHandle), event: notify.Event{
				Kind: notify.MDAppReplyTimeout, Timestamp: now,
				ComID: s.Tuple.ComID, SessionID: s.ID,
				Code: errcodes.AppReplyToErr, Err: errcodes.New(errcodes.AppReplyToErr, ""),
				UserRef: s.UserRef,
			}})
		case RxReplyQueryW4C:
			s.NumConfirmTimeout++
			delete(t.replierSessions, id)
			listenerCb := t.listenerCallback(s.ListenerHandle)
			events = append(events, dispatched{sink: listenerCb, event: notify.Event{
				Kind: notify.MDConfirmTimeout, Timestamp: now,
				ComID: s.Tuple.ComID, SessionID: s.ID,
				Code: errcodes.ConfirmToErr, Err: errcodes.New(errcodes.ConfirmToErr, ""),
				UserRef: s.UserRef,
			}})
		}
	}

	return events, retries
}

// ReplierSession returns a snapshot of the replier-side session for id,
// so a caller can learn its addressing tuple before answering it with
// Reply/ReplyQuery (which may delete or transition the session).
func (t *Table) ReplierSession(id sessionid.ID) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.replierSessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// CallerSession returns a snapshot of the caller-side session for id.
func (t *Table) CallerSession(id sessionid.ID) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.callerSessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

func (t *Table) listenerCallback(handle int) notify.Sink {
	if l, ok := t.listeners[handle]; ok {
		return l.Callback
	}
	return nil
}

// NextDeadline returns the earliest deadline across every in-flight
// caller and replier session, or the zero Time if none is armed.
func (t *Table) NextDeadline() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	var earliest time.Time
	consider := func(d time.Time) {
		if d.IsZero() {
			return
		}
		if earliest.IsZero() || d.Before(earliest) {
			earliest = d
		}
	}
	for _, s := range t.callerSessions {
		consider(s.ReceiveDeadline)
	}
	for _, s := range t.replierSessions {
		consider(s.ReceiveDeadline)
	}
	return earliest
}
