// Package session ties the PD and MD engines, the socket pool, and the
// memory arena into the single cooperative session context spec.md §4.1
// describes: one work loop, driven by the host, that sends due
// publications, reads ready sockets, dispatches inbound frames, and
// expires timeouts — grounded on the teacher's collector.Run tick loop
// and main.go wiring, generalized from a netlink poll loop to a
// PD/MD socket loop.
package session

import (
	"log"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/m-lab/go/logx"

	"github.com/tcnopen/trdpgo/addressing"
	"github.com/tcnopen/trdpgo/errcodes"
	"github.com/tcnopen/trdpgo/md"
	"github.com/tcnopen/trdpgo/memarena"
	"github.com/tcnopen/trdpgo/metrics"
	"github.com/tcnopen/trdpgo/notify"
	"github.com/tcnopen/trdpgo/pd"
	"github.com/tcnopen/trdpgo/sessionid"
	"github.com/tcnopen/trdpgo/socketpool"
	"github.com/tcnopen/trdpgo/transform"
	"github.com/tcnopen/trdpgo/wire"
)

// sendErrLog rate-limits the "socket not ready"/write-error log line a
// flapping link could otherwise spam once per work loop tick, the same
// device snapshot.go uses for its own per-second log line.
var sendErrLog = logx.NewLogEvery(nil, time.Second)

// readBufSize is the largest single datagram/TCP chunk a work loop tick
// reads at once; MD's configurable maximum can exceed this only if the
// host also raises Options accordingly.
const readBufSize = 65536

// Session is one TRDP session context (spec.md §2, §4.1): it owns the
// socket pool, the memory arena, the PD send/receive queues, and the MD
// session table, and is driven by one cooperative work loop.
type Session struct {
	mu sync.Mutex

	OwnIP    addressing.IP
	LeaderIP addressing.IP
	Options  Options
	Marshal  transform.Marshaller

	Arena   *memarena.Arena
	Sockets *socketpool.Pool
	TxPD    *pd.SendQueue
	RxPD    *pd.ReceiveQueue
	MD      *md.Table
	Policy  pd.RedundancyPolicy

	pdSocket int
	mdSocket int

	// mdListener accepts inbound MD-TCP corner connections; each accepted
	// connection becomes its own socketpool slot (spec.md §4.5: a TCP
	// corner is identified by its remote IP, established either by us
	// dialing out or a peer dialing in).
	mdListener *net.TCPListener

	opened time.Time
	closed bool
}

// OpenSession initialises a session context: allocates the arena, opens
// the PD and MD UDP sockets, clears statistics, and records the
// initialisation timestamp (spec.md §4.1 openSession). leaderIP selects
// which session is the redundancy-group leader via pd.StaticLeader; pass
// a real pd.RedundancyPolicy with SetPolicy for anything more dynamic.
func OpenSession(ownIP, leaderIP addressing.IP, marshaller transform.Marshaller, opts Options) (*Session, error) {
	pool := socketpool.New()

	pdIdx, err := pool.RequestSocket(socketpool.RequestOptions{
		Port:       opts.PDPort,
		SrcIP:      ownIP,
		Purpose:    socketpool.PurposePDUDP,
		SendParams: socketpool.SendParams{TTL: opts.DefaultTTL, QoS: opts.DefaultQoS},
		Reuse:      true,
	})
	if err != nil {
		return nil, err
	}
	mdIdx, err := pool.RequestSocket(socketpool.RequestOptions{
		Port:       opts.MDPort,
		SrcIP:      ownIP,
		Purpose:    socketpool.PurposeMDUDP,
		SendParams: socketpool.SendParams{TTL: opts.DefaultTTL, QoS: opts.DefaultQoS},
		Reuse:      true,
	})
	if err != nil {
		pool.ReleaseSocket(pdIdx, 0, true, 0)
		return nil, err
	}

	mdListener, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: ownIP.ToNetIP(), Port: opts.MDPort})
	if err != nil {
		pool.ReleaseSocket(pdIdx, 0, true, 0)
		pool.ReleaseSocket(mdIdx, 0, true, 0)
		return nil, errcodes.New(errcodes.SockErr, err.Error())
	}

	if marshaller == nil {
		marshaller = transform.Identity{}
	}

	s := &Session{
		OwnIP:      ownIP,
		LeaderIP:   leaderIP,
		Options:    opts,
		Marshal:    marshaller,
		Arena:      memarena.New(opts.ArenaBucketCap),
		Sockets:    pool,
		TxPD:       pd.NewSendQueue(),
		RxPD:       pd.NewReceiveQueue(),
		MD:         md.NewTable(sessionid.NewGenerator()),
		Policy:     pd.StaticLeader(ownIP == leaderIP),
		pdSocket:   pdIdx,
		mdSocket:   mdIdx,
		mdListener: mdListener,
		opened:     time.Now(),
	}
	return s, nil
}

// SetPolicy overrides the redundancy-leadership policy consulted on every
// PD send tick (spec.md §9 Open Question: leadership is external).
func (s *Session) SetPolicy(p pd.RedundancyPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Policy = p
}

// Close drains the session's queues and returns its sockets (spec.md
// §4.1 closeSession).
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errcodes.New(errcodes.NoInitErr, "session already closed")
	}
	s.closed = true
	s.Sockets.ReleaseSocket(s.pdSocket, 0, true, 0)
	s.Sockets.ReleaseSocket(s.mdSocket, 0, true, 0)
	if s.mdListener != nil {
		s.mdListener.Close()
	}
	return nil
}

func destAddr(tuple addressing.Tuple, port int) *net.UDPAddr {
	ip := tuple.DestIP
	if tuple.McGroup != 0 {
		ip = tuple.McGroup
	}
	return &net.UDPAddr{IP: ip.ToNetIP(), Port: port}
}

// PublishPD creates a cyclic (or on-demand, if interval is zero)
// publication and joins its multicast group on the session's PD socket if
// one is set (spec.md §4.2 publish). FlagTSN routes the publication onto
// a dedicated PD-TSN socket slot instead of the shared PD-UDP one;
// FlagMarshalled runs data through the session's Marshaller before it is
// framed ("marshals data if requested"); FlagMulticastJoined and
// SocketIndex are set to reflect the socket slot actually acquired.
func (s *Session) PublishPD(tuple addressing.Tuple, interval time.Duration, redundancyGroup uint32, data []byte, flags pd.Flags) (*pd.Publication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purpose := socketpool.PurposePDUDP
	if flags.Has(pd.FlagTSN) {
		purpose = socketpool.PurposePDTSN
	}
	idx, err := s.Sockets.RequestSocket(socketpool.RequestOptions{
		Port: s.Options.PDPort, SrcIP: s.OwnIP, McGroup: tuple.McGroup, Purpose: purpose,
	})
	if err != nil {
		return nil, err
	}

	if flags.Has(pd.FlagMarshalled) {
		marshalled, err := s.Marshal.Marshal(tuple.ComID, data)
		if err != nil {
			return nil, err
		}
		data = marshalled
	}

	p, err := s.TxPD.Publish(tuple, interval, redundancyGroup, wire.MsgPD, data, flags, time.Now())
	if err != nil {
		return nil, err
	}
	p.SocketIndex = idx
	if tuple.McGroup != 0 {
		p.Flags |= pd.FlagMulticastJoined
	}
	return p, nil
}

// UnmarshalPD runs a received PD frame's payload back through the
// session's Marshaller, the receive-side counterpart of PublishPD's
// FlagMarshalled encode step (spec.md §4.2 "marshals data if
// requested"). A session opened without an explicit Marshaller uses
// transform.Identity, which returns data unchanged.
func (s *Session) UnmarshalPD(comID uint32, data []byte) (interface{}, error) {
	return s.Marshal.Unmarshal(comID, data)
}

// SubscribePD arms a subscription and joins its multicast group on the
// session's PD socket if one is set (spec.md §4.3 subscribe).
func (s *Session) SubscribePD(tuple addressing.Tuple, timeout time.Duration, policy pd.TimeoutPolicy, userRef interface{}, cb notify.Sink) (*pd.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tuple.McGroup != 0 {
		if _, err := s.Sockets.RequestSocket(socketpool.RequestOptions{
			Port: s.Options.PDPort, SrcIP: s.OwnIP, McGroup: tuple.McGroup, Purpose: socketpool.PurposePDUDP,
		}); err != nil {
			return nil, err
		}
	}
	return s.RxPD.Subscribe(tuple, timeout, policy, userRef, cb, time.Now()), nil
}

// RequestPD sends a one-shot PD Request (`Pr`) to tuple's destination,
// asking it to answer with its current publication data for the same
// ComId as a PD Pull (`Pp`) reply delivered to replyComID at this
// session's own address (spec.md §4.2 "Pull/request semantics"). If a
// subscription is already armed for replyComID, it is marked
// FlagRequestPending until the Pp arrives.
func (s *Session) RequestPD(tuple addressing.Tuple, replyComID uint32, data []byte) error {
	s.mu.Lock()
	frame, err := s.TxPD.BuildRequest(tuple, replyComID, s.OwnIP, data)
	if err == nil {
		s.RxPD.SetRequestPending(replyComID)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	slot := s.Sockets.Slot(s.pdSocket)
	if slot == nil || slot.UDPConn() == nil {
		return errcodes.New(errcodes.SockErr, "PD socket not ready")
	}
	if _, err := slot.UDPConn().WriteTo(frame, destAddr(tuple, s.Options.PDPort)); err != nil {
		return errcodes.New(errcodes.IoErr, err.Error())
	}
	return nil
}

// RequestMD arms a caller-side MD session and sends its Mr, defaulting
// timeouts from Options when the caller passes zero (spec.md §4.4
// request). useTCP selects the MD-TCP transport for this session's
// entire lifetime (its reply/confirm traffic follows); otherwise MD-UDP
// is used (spec.md §1/§2 "over UDP and TCP").
func (s *Session) RequestMD(tuple addressing.Tuple, sourceURI, destURI string, data []byte, numExpReplies int, replyTimeout, confirmTimeout time.Duration, retriesMax int, useTCP bool, userRef interface{}, cb notify.Sink) (*md.Session, error) {
	s.mu.Lock()
	if replyTimeout == 0 {
		replyTimeout = s.Options.DefaultMDReplyTimeout
	}
	if confirmTimeout == 0 {
		confirmTimeout = s.Options.DefaultMDConfirmTimeout
	}
	transport := transportOf(useTCP)
	sess, frame, err := s.MD.Request(tuple, sourceURI, destURI, data, numExpReplies, replyTimeout, confirmTimeout, retriesMax, transport, userRef, cb, time.Now())
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return sess, s.sendMDTransport(tuple, transport, frame)
}

// ListenMD arms a replier-side listener (spec.md §4.4 listener).
func (s *Session) ListenMD(tuple addressing.Tuple, replyTimeout, confirmTimeout time.Duration, userRef interface{}, cb notify.Sink) *md.Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	if replyTimeout == 0 {
		replyTimeout = s.Options.DefaultMDReplyTimeout
	}
	if confirmTimeout == 0 {
		confirmTimeout = s.Options.DefaultMDConfirmTimeout
	}
	return s.MD.AddListener(tuple, replyTimeout, confirmTimeout, userRef, cb)
}

// NotifyMD sends a one-shot Mn with no expected reply (spec.md §4.4 notify).
func (s *Session) NotifyMD(tuple addressing.Tuple, sourceURI, destURI string, data []byte, useTCP bool) error {
	s.mu.Lock()
	frame, err := s.MD.Notify(tuple, sourceURI, destURI, data, time.Now())
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.sendMDTransport(tuple, transportOf(useTCP), frame)
}

// ReplyMD answers a matched Mr with a final Mp (spec.md §4.4 reply). It
// answers the actual peer the Mr arrived from, over the transport it
// arrived on, not the listener's own tuple.
func (s *Session) ReplyMD(id sessionid.ID, sourceURI, destURI string, data []byte) error {
	s.mu.Lock()
	sess, ok := s.MD.ReplierSession(id)
	if !ok {
		s.mu.Unlock()
		return errcodes.New(errcodes.NoSessionErr, "unknown MD session")
	}
	frame, err := s.MD.Reply(id, sourceURI, destURI, data, time.Now())
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.sendMDTransport(replyDest(sess), sess.Transport, frame)
}

// ReplyQueryMD answers a matched Mr with an Mq and arms the confirm wait
// (spec.md §4.4 replyQuery).
func (s *Session) ReplyQueryMD(id sessionid.ID, sourceURI, destURI string, data []byte) error {
	s.mu.Lock()
	sess, ok := s.MD.ReplierSession(id)
	if !ok {
		s.mu.Unlock()
		return errcodes.New(errcodes.NoSessionErr, "unknown MD session")
	}
	frame, err := s.MD.ReplyQuery(id, sourceURI, destURI, data, time.Now())
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.sendMDTransport(replyDest(sess), sess.Transport, frame)
}

// ConfirmMD sends the caller-side Mc acknowledging a received Mq (spec.md
// §4.4 confirm), over the same transport the original Request used.
func (s *Session) ConfirmMD(id sessionid.ID, sourceURI, destURI string) error {
	s.mu.Lock()
	sess, ok := s.MD.CallerSession(id)
	if !ok {
		s.mu.Unlock()
		return errcodes.New(errcodes.NoSessionErr, "unknown MD session")
	}
	frame, events, err := s.MD.Confirm(id, sourceURI, destURI, time.Now())
	s.mu.Unlock()
	if err != nil {
		return err
	}
	for _, ev := range events {
		ev.Send()
	}
	return s.sendMDTransport(sess.Tuple, sess.Transport, frame)
}

// AbortMD discards an in-flight MD session with no further notifications
// (spec.md §4.4 Cancellation).
func (s *Session) AbortMD(id sessionid.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MD.AbortSession(id)
}

func transportOf(useTCP bool) md.Transport {
	if useTCP {
		return md.TransportTCP
	}
	return md.TransportUDP
}

// replyDest builds the addressing tuple Reply/ReplyQuery must send to:
// the replier-side session's own tuple, but with the destination
// overridden to the actual peer the Mr came from.
func replyDest(sess md.Session) addressing.Tuple {
	dest := sess.Tuple
	dest.DestIP = sess.Source
	dest.McGroup = 0
	return dest
}

// sendMDTransport sends frame to tuple's destination over the given MD
// transport, dialing an MD-TCP corner on first use (spec.md §4.4/§4.5).
func (s *Session) sendMDTransport(tuple addressing.Tuple, transport md.Transport, frame []byte) error {
	if transport == md.TransportTCP {
		return s.sendMDTCP(tuple, frame)
	}
	return s.sendMD(s.Sockets.Slot(s.mdSocket), frame, tuple)
}

func (s *Session) sendMD(slot *socketpool.Slot, frame []byte, tuple addressing.Tuple) error {
	if slot == nil || slot.UDPConn() == nil {
		return errcodes.New(errcodes.SockErr, "MD socket not ready")
	}
	_, err := slot.UDPConn().WriteTo(frame, destAddr(tuple, s.Options.MDPort))
	if err != nil {
		return errcodes.New(errcodes.IoErr, err.Error())
	}
	return nil
}

// sendMDTCP sends frame to tuple's destination over an MD-TCP corner,
// connecting lazily on first use and reusing the slot thereafter
// (spec.md §4.5 TCP specifics).
func (s *Session) sendMDTCP(tuple addressing.Tuple, frame []byte) error {
	idx, err := s.Sockets.RequestSocket(socketpool.RequestOptions{
		Port:     s.Options.MDPort,
		SrcIP:    s.OwnIP,
		Purpose:  socketpool.PurposeMDTCP,
		CornerIP: tuple.DestIP,
	})
	if err != nil {
		return err
	}
	slot := s.Sockets.Slot(idx)
	if slot == nil {
		return errcodes.New(errcodes.SockErr, "MD-TCP slot not found")
	}
	if err := slot.EnsureConnected(s.Options.MDConnectTimeout, time.Now()); err != nil {
		return err
	}
	return slot.SendFrame(frame, s.Options.MDSendingTimeout)
}

// NextDeadline returns the earliest armed deadline across PD send, PD
// receive, and MD, the "next job" deadline of spec.md §3's invariant.
func (s *Session) NextDeadline() time.Time {
	var earliest time.Time
	consider := func(d time.Time) {
		if d.IsZero() {
			return
		}
		if earliest.IsZero() || d.Before(earliest) {
			earliest = d
		}
	}
	consider(s.TxPD.NextDeadline())
	consider(s.RxPD.NextDeadline())
	consider(s.MD.NextDeadline())
	return earliest
}

// Process runs one work loop tick (spec.md §4.1 process): sends due
// publications, reads the session's two UDP sockets, dispatches inbound
// frames, expires PD and MD timeouts, and progresses TCP morituri
// sockets. It never blocks; Process returning does not imply any socket
// was actually readable this tick.
func (s *Session) Process(now time.Time) {
	timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
		metrics.WorkLoopTickHistogram.Observe(v)
	}))
	defer timer.ObserveDuration()

	s.sendDuePD(now)
	s.receiveSocket(s.pdSocket, now)
	s.receiveSocket(s.mdSocket, now)
	s.acceptMDTCP(now)
	s.receiveTCP(now)
	s.expirePD(now)
	s.expireMD(now)
	s.Sockets.CheckMorituri(now)

	metrics.SocketSlotsGauge.Set(float64(s.Sockets.Len()))
	metrics.MDSessionsOpenGauge.Set(float64(s.Stats().MDSessionsOpen))
}

func (s *Session) sendDuePD(now time.Time) {
	for _, p := range s.TxPD.Due(now) {
		frame, suppressed := p.Fire(s.TxPD.Counters(), s.Policy, now)
		if suppressed {
			continue
		}
		slot := s.Sockets.Slot(p.SocketIndex)
		if slot == nil {
			slot = s.Sockets.Slot(s.pdSocket)
		}
		if slot == nil || slot.UDPConn() == nil {
			p.RecordSendError(errcodes.New(errcodes.SockErr, "PD socket not ready"))
			continue
		}
		if _, err := slot.UDPConn().WriteTo(frame, destAddr(p.Tuple, s.Options.PDPort)); err != nil {
			p.RecordSendError(err)
			metrics.ErrorTotal.With(prometheus.Labels{"type": errcodes.IoErr.String()}).Inc()
			sendErrLog.Println("trdpgo/session: PD send failed:", err)
			continue
		}
		metrics.PDSendTotal.With(prometheus.Labels{"comid": comIDLabel(p.Tuple.ComID)}).Inc()
	}
}

// receiveSocket drains every datagram currently queued on the UDP socket
// at slotIndex without blocking, dispatching each to the PD or MD engine
// by peeking its msgType (spec.md §4.1 process step 2).
func (s *Session) receiveSocket(slotIndex int, now time.Time) {
	slot := s.Sockets.Slot(slotIndex)
	if slot == nil || slot.UDPConn() == nil {
		return
	}
	conn := slot.UDPConn()
	buf := make([]byte, readBufSize)
	for {
		conn.SetReadDeadline(now)
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return // no more datagrams ready this tick
		}
		s.dispatchFrame(buf[:n], srcIPOf(addr), now)
	}
}

func srcIPOf(addr *net.UDPAddr) addressing.IP {
	if addr == nil {
		return 0
	}
	return addressing.FromNetIP(addr.IP)
}

func (s *Session) dispatchFrame(raw []byte, src addressing.IP, now time.Time) {
	msgType, err := wire.PeekMsgType(raw)
	if err != nil {
		metrics.ErrorTotal.With(prometheus.Labels{"type": errcodes.PacketErr.String()}).Inc()
		return
	}
	if msgType.IsMD() {
		s.dispatchMDBytes(raw, src, md.TransportUDP, now)
		return
	}
	header, data, err := pd.ParseFrame(raw)
	if err != nil {
		metrics.ErrorTotal.With(prometheus.Labels{"type": crcOrWireCode(err).String()}).Inc()
		return
	}
	if header.MsgType == wire.MsgPDRequest {
		s.handlePDRequest(header)
		return
	}
	for _, ev := range s.RxPD.Dispatch(header, data, src, now) {
		metrics.PDReceiveTotal.With(prometheus.Labels{"comid": comIDLabel(header.ComID)}).Inc()
		ev.Send()
	}
}

// handlePDRequest answers an inbound PD Request (`Pr`) with a PD Pull
// (`Pp`) reply carrying the local publication's current data for the
// same ComId, addressed to the requester's ReplyComID/ReplyIPAddr
// (spec.md §4.2 "the receiving peer responds with a PD Pull reply"). A
// Pr naming a ComId this session doesn't publish is silently ignored,
// same as a frame with no matching subscription.
func (s *Session) handlePDRequest(header *wire.PDHeader) {
	pub := s.TxPD.FindByComID(header.ComID)
	if pub == nil {
		return
	}
	frame := s.TxPD.BuildPullReply(pub, header.ReplyComID, s.OwnIP)

	slot := s.Sockets.Slot(s.pdSocket)
	if slot == nil || slot.UDPConn() == nil {
		return
	}
	dest := &net.UDPAddr{IP: addressing.IP(header.ReplyIPAddr).ToNetIP(), Port: s.Options.PDPort}
	if _, err := slot.UDPConn().WriteTo(frame, dest); err != nil {
		metrics.ErrorTotal.With(prometheus.Labels{"type": errcodes.IoErr.String()}).Inc()
		sendErrLog.Println("trdpgo/session: PD pull reply send failed:", err)
	}
}

func (s *Session) dispatchMDBytes(raw []byte, src addressing.IP, transport md.Transport, now time.Time) {
	header, data, err := md.ParseFrame(raw)
	if err != nil {
		metrics.ErrorTotal.With(prometheus.Labels{"type": crcOrWireCode(err).String()}).Inc()
		return
	}
	for _, ev := range s.MD.OnInbound(header, data, src, transport, now) {
		ev.Send()
	}
}

// receiveTCP drains every connected MD-TCP corner's pending inbound
// bytes and dispatches any complete frames assembled from them (spec.md
// §4.5 "TCP receive accumulates bytes...until a full frame is
// assembled; partial frames survive across process invocations").
func (s *Session) receiveTCP(now time.Time) {
	for _, slot := range s.Sockets.Slots() {
		if slot == nil || slot.Purpose != socketpool.PurposeMDTCP || !slot.Connected() {
			continue
		}
		s.drainTCPSlot(slot, now)
	}
}

func (s *Session) drainTCPSlot(slot *socketpool.Slot, now time.Time) {
	conn := slot.TCPConn()
	buf := make([]byte, readBufSize)
	for {
		conn.SetReadDeadline(now)
		n, err := conn.Read(buf)
		if n > 0 {
			slot.AppendUncompleted(buf[:n])
		}
		if err != nil {
			break
		}
	}
	src := tcpRemoteIP(conn)
	for {
		frame, ok := extractMDFrame(slot.Uncompleted())
		if !ok {
			return
		}
		slot.ConsumeUncompleted(len(frame))
		s.dispatchMDBytes(frame, src, md.TransportTCP, now)
	}
}

// acceptMDTCP non-blockingly accepts any inbound MD-TCP corner connections
// pending on the session's listener and registers each as its own
// socketpool slot, the accept-side counterpart of sendMDTCP's dial-on-send
// (spec.md §4.5: a corner is established either by dialing out or by a
// peer dialing in).
func (s *Session) acceptMDTCP(now time.Time) {
	if s.mdListener == nil {
		return
	}
	for {
		s.mdListener.SetDeadline(now)
		conn, err := s.mdListener.AcceptTCP()
		if err != nil {
			return
		}
		cornerIP := tcpRemoteIP(conn)
		s.Sockets.AdoptTCPConn(conn, s.OwnIP, s.Options.MDPort, cornerIP)
	}
}

func tcpRemoteIP(conn net.Conn) addressing.IP {
	ta, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return 0
	}
	return addressing.FromNetIP(ta.IP)
}

// extractMDFrame pulls one complete MD frame off the front of buf, if
// the header advertises enough bytes are already present.
func extractMDFrame(buf []byte) ([]byte, bool) {
	if len(buf) < wire.MDHeaderSize {
		return nil, false
	}
	header, _, err := wire.DecodeMDHeader(buf)
	if err != nil {
		return nil, false
	}
	total := wire.MDFrameLength(header.DatasetLength)
	if len(buf) < total {
		return nil, false
	}
	return append([]byte(nil), buf[:total]...), true
}

func crcOrWireCode(err error) errcodes.Code {
	if err == wire.ErrHeaderCRC || err == wire.ErrDataCRC {
		return errcodes.CrcErr
	}
	return errcodes.WireErr
}

func (s *Session) expirePD(now time.Time) {
	for _, ev := range s.RxPD.CheckTimeouts(now) {
		metrics.PDTimeoutTotal.With(prometheus.Labels{"comid": comIDLabel(ev.Event().ComID)}).Inc()
		ev.Send()
	}
}

func (s *Session) expireMD(now time.Time) {
	events, retries := s.MD.CheckTimeouts(now)
	for _, ev := range events {
		metrics.MDCompletionTotal.With(prometheus.Labels{"result": resultLabel(ev.Event())}).Inc()
		ev.Send()
	}
	for _, r := range retries {
		if err := s.sendMDTransport(r.Session.Tuple, r.Session.Transport, r.Frame); err != nil {
			log.Printf("trdpgo/session: MD retry send failed for session %s: %v", r.Session.ID, err)
		}
	}
}

func resultLabel(e notify.Event) string {
	if e.Code == errcodes.NoErr {
		return errcodes.NoErr.String()
	}
	return e.Code.String()
}

func comIDLabel(comID uint32) string {
	return wire.MsgPD.String() + "-" + itoa(comID)
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
