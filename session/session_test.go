package session_test

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/tcnopen/trdpgo/addressing"
	"github.com/tcnopen/trdpgo/notify"
	"github.com/tcnopen/trdpgo/pd"
	"github.com/tcnopen/trdpgo/session"
	"github.com/tcnopen/trdpgo/sessionid"
)

// upperMarshaller is a trivial transform.Marshaller: it uppercases a
// string on the wire and lowercases it back, enough to prove PublishPD
// and UnmarshalPD actually route through a session's Marshaller rather
// than treating data as opaque bytes (spec.md §4.2 "marshals data if
// requested").
type upperMarshaller struct{}

func (upperMarshaller) Marshal(_ uint32, v interface{}) ([]byte, error) {
	b := v.([]byte)
	return []byte(strings.ToUpper(string(b))), nil
}

func (upperMarshaller) Unmarshal(_ uint32, data []byte) (interface{}, error) {
	return strings.ToLower(string(data)), nil
}

func ipOf(t *testing.T, s string) addressing.IP {
	t.Helper()
	ip := net.ParseIP(s)
	if ip == nil {
		t.Fatalf("bad ip literal %q", s)
	}
	return addressing.FromNetIP(ip)
}

// openPair opens two sessions on distinct loopback aliases, sharing the
// same standard PD/MD ports: TRDP differentiates participants by address,
// not port (spec.md §3), so 127.0.0.1 and 127.0.0.2 can each bind the
// well-known ports independently.
func openPair(t *testing.T) (a, b *session.Session, aIP, bIP addressing.IP) {
	t.Helper()
	aIP = ipOf(t, "127.0.0.1")
	bIP = ipOf(t, "127.0.0.2")

	var err error
	a, err = session.OpenSession(aIP, aIP, nil, session.DefaultOptions())
	if err != nil {
		t.Fatalf("OpenSession(a): %v", err)
	}
	t.Cleanup(func() { a.Close() })

	b, err = session.OpenSession(bIP, bIP, nil, session.DefaultOptions())
	if err != nil {
		t.Fatalf("OpenSession(b): %v", err)
	}
	t.Cleanup(func() { b.Close() })

	return a, b, aIP, bIP
}

func TestPDPublishSubscribeRoundTrip(t *testing.T) {
	pubSess, subSess, pubIP, subIP := openPair(t)

	tuple := addressing.Tuple{ComID: 100, SrcIP: pubIP, DestIP: subIP}

	var received notify.Event
	var gotEvent bool
	if _, err := subSess.SubscribePD(tuple, 2*time.Second, pd.KeepLast, nil, func(e notify.Event) {
		received = e
		gotEvent = true
	}); err != nil {
		t.Fatalf("SubscribePD: %v", err)
	}

	if _, err := pubSess.PublishPD(tuple, time.Millisecond, 0, []byte("hello"), 0); err != nil {
		t.Fatalf("PublishPD: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	pubSess.Process(time.Now())

	deadline := time.Now().Add(time.Second)
	for !gotEvent && time.Now().Before(deadline) {
		subSess.Process(time.Now())
		time.Sleep(time.Millisecond)
	}

	if !gotEvent {
		t.Fatal("subscription never received the published frame")
	}
	if received.Kind != notify.PDDataReceived {
		t.Fatalf("kind = %v, want PDDataReceived", received.Kind)
	}
	if string(received.Data) != "hello" {
		t.Fatalf("data = %q, want %q", received.Data, "hello")
	}
	if received.Source != pubIP {
		t.Fatalf("source = %v, want %v", received.Source, pubIP)
	}
}

// TestPDRequestPullRoundTrip exercises the Pull/request path (spec.md
// §4.2): a PD Request asking for comID 42's data comes back as a PD Pull
// addressed to the requester's own subscription for replyComID 42,
// carrying the responder's current publication data.
func TestPDRequestPullRoundTrip(t *testing.T) {
	requesterSess, responderSess, requesterIP, responderIP := openPair(t)

	pdTuple := addressing.Tuple{ComID: 42, SrcIP: responderIP}
	if _, err := responderSess.PublishPD(pdTuple, time.Hour, 0, []byte("current value"), 0); err != nil {
		t.Fatalf("PublishPD: %v", err)
	}

	var received notify.Event
	var gotPull bool
	if _, err := requesterSess.SubscribePD(addressing.Tuple{ComID: 42}, 0, pd.ZeroOut, nil, func(e notify.Event) {
		received = e
		gotPull = true
	}); err != nil {
		t.Fatalf("SubscribePD: %v", err)
	}

	reqTuple := addressing.Tuple{ComID: 42, SrcIP: requesterIP, DestIP: responderIP}
	if err := requesterSess.RequestPD(reqTuple, 42, nil); err != nil {
		t.Fatalf("RequestPD: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !gotPull && time.Now().Before(deadline) {
		now := time.Now()
		responderSess.Process(now)
		requesterSess.Process(now)
		time.Sleep(time.Millisecond)
	}

	if !gotPull {
		t.Fatal("requester never received the Pp pull reply")
	}
	if string(received.Data) != "current value" {
		t.Fatalf("pulled data = %q, want %q", received.Data, "current value")
	}
}

// TestPublishPDMarshalledRoundTrip exercises FlagMarshalled end to end:
// PublishPD must run the payload through the session's Marshaller before
// framing it, and UnmarshalPD must be able to recover the application
// value from what actually went out on the wire.
func TestPublishPDMarshalledRoundTrip(t *testing.T) {
	pubSess, subSess, pubIP, subIP := openPair(t)
	pubSess.Marshal = upperMarshaller{}

	tuple := addressing.Tuple{ComID: 300, SrcIP: pubIP, DestIP: subIP}

	var received notify.Event
	var gotEvent bool
	if _, err := subSess.SubscribePD(tuple, 2*time.Second, pd.KeepLast, nil, func(e notify.Event) {
		received = e
		gotEvent = true
	}); err != nil {
		t.Fatalf("SubscribePD: %v", err)
	}

	pub, err := pubSess.PublishPD(tuple, time.Millisecond, 0, []byte("hello"), pd.FlagMarshalled)
	if err != nil {
		t.Fatalf("PublishPD: %v", err)
	}
	if string(pub.Data()) != "HELLO" {
		t.Fatalf("publication data = %q, want the marshalled form %q", pub.Data(), "HELLO")
	}

	time.Sleep(5 * time.Millisecond)
	pubSess.Process(time.Now())

	deadline := time.Now().Add(time.Second)
	for !gotEvent && time.Now().Before(deadline) {
		subSess.Process(time.Now())
		time.Sleep(time.Millisecond)
	}
	if !gotEvent {
		t.Fatal("subscription never received the published frame")
	}
	if string(received.Data) != "HELLO" {
		t.Fatalf("wire data = %q, want the marshalled form %q", received.Data, "HELLO")
	}

	v, err := subSess.UnmarshalPD(received.ComID, received.Data)
	if err != nil {
		t.Fatalf("UnmarshalPD: %v", err)
	}
	if v != "hello" {
		t.Fatalf("unmarshalled value = %v, want %q", v, "hello")
	}
}

// TestPublishPDFlagsReflectSocketState checks that PublishPD sets
// FlagMulticastJoined when a multicast group is actually joined and
// leaves it clear for a unicast publication (spec.md §3 publication
// flag set).
func TestPublishPDFlagsReflectSocketState(t *testing.T) {
	pubSess, _, pubIP, subIP := openPair(t)

	unicast, err := pubSess.PublishPD(addressing.Tuple{ComID: 301, SrcIP: pubIP, DestIP: subIP}, time.Second, 0, []byte("x"), 0)
	if err != nil {
		t.Fatalf("PublishPD: %v", err)
	}
	if unicast.Flags&pd.FlagMulticastJoined != 0 {
		t.Error("unicast publication must not carry FlagMulticastJoined")
	}

	mcGroup := ipOf(t, "239.0.0.1")
	multicast, err := pubSess.PublishPD(addressing.Tuple{ComID: 302, SrcIP: pubIP, McGroup: mcGroup}, time.Second, 0, []byte("x"), 0)
	if err != nil {
		t.Fatalf("PublishPD (multicast): %v", err)
	}
	if multicast.Flags&pd.FlagMulticastJoined == 0 {
		t.Error("multicast publication must carry FlagMulticastJoined")
	}
}

func TestMDRequestReplyRoundTrip(t *testing.T) {
	callerSess, replierSess, callerIP, replierIP := openPair(t)

	tuple := addressing.Tuple{ComID: 200, SrcIP: callerIP, DestIP: replierIP}

	var reqSessionID sessionid.ID
	var gotRequest bool
	replierSess.ListenMD(tuple, time.Second, time.Second, nil, func(e notify.Event) {
		if e.Kind != notify.MDRequestReceived {
			return
		}
		gotRequest = true
		reqSessionID = e.SessionID
		if err := replierSess.ReplyMD(e.SessionID, "", "", []byte("pong")); err != nil {
			t.Errorf("ReplyMD: %v", err)
		}
	})

	var completed bool
	var reply notify.Event
	sess, err := callerSess.RequestMD(tuple, "", "", []byte("ping"), 1, time.Second, time.Second, 0, false, nil, func(e notify.Event) {
		switch e.Kind {
		case notify.MDReplyReceived:
			reply = e
		case notify.MDCompleted:
			completed = true
		}
	})
	if err != nil {
		t.Fatalf("RequestMD: %v", err)
	}
	if sess == nil {
		t.Fatal("RequestMD returned a nil session")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !completed && time.Now().Before(deadline) {
		now := time.Now()
		replierSess.Process(now)
		callerSess.Process(now)
		time.Sleep(time.Millisecond)
	}

	if !gotRequest {
		t.Fatal("listener never saw the Mr")
	}
	_ = reqSessionID
	if !completed {
		t.Fatal("caller session never completed")
	}
	if string(reply.Data) != "pong" {
		t.Fatalf("reply data = %q, want %q", reply.Data, "pong")
	}
}

// TestMDRequestReplyRoundTripTCP exercises the MD-TCP corner path: the
// Mr connects on first send, and the reply comes back over the same TCP
// connection rather than UDP (spec.md §1/§2/§4.4 "over UDP and TCP").
func TestMDRequestReplyRoundTripTCP(t *testing.T) {
	callerSess, replierSess, callerIP, replierIP := openPair(t)

	tuple := addressing.Tuple{ComID: 201, SrcIP: callerIP, DestIP: replierIP}

	var gotRequest bool
	replierSess.ListenMD(tuple, time.Second, time.Second, nil, func(e notify.Event) {
		if e.Kind != notify.MDRequestReceived {
			return
		}
		gotRequest = true
		if err := replierSess.ReplyMD(e.SessionID, "", "", []byte("pong-tcp")); err != nil {
			t.Errorf("ReplyMD: %v", err)
		}
	})

	var completed bool
	var reply notify.Event
	sess, err := callerSess.RequestMD(tuple, "", "", []byte("ping-tcp"), 1, time.Second, time.Second, 0, true, nil, func(e notify.Event) {
		switch e.Kind {
		case notify.MDReplyReceived:
			reply = e
		case notify.MDCompleted:
			completed = true
		}
	})
	if err != nil {
		t.Fatalf("RequestMD: %v", err)
	}
	if sess == nil {
		t.Fatal("RequestMD returned a nil session")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !completed && time.Now().Before(deadline) {
		now := time.Now()
		replierSess.Process(now)
		callerSess.Process(now)
		time.Sleep(time.Millisecond)
	}

	if !gotRequest {
		t.Fatal("listener never saw the Mr")
	}
	if !completed {
		t.Fatal("caller session never completed")
	}
	if string(reply.Data) != "pong-tcp" {
		t.Fatalf("reply data = %q, want %q", reply.Data, "pong-tcp")
	}
}
