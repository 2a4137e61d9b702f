package md_test

import (
	"testing"
	"time"

	"github.com/tcnopen/trdpgo/addressing"
	"github.com/tcnopen/trdpgo/errcodes"
	"github.com/tcnopen/trdpgo/md"
	"github.com/tcnopen/trdpgo/notify"
	"github.com/tcnopen/trdpgo/sessionid"
)

func mkTuple(comID uint32) addressing.Tuple {
	return addressing.Tuple{ComID: comID}
}

func TestRequestReplySingleReplierCompletes(t *testing.T) {
	tbl := md.NewTable(sessionid.NewGenerator())
	now := time.Now()

	var completed *notify.Event
	sess, reqFrame, err := tbl.Request(mkTuple(5001), "caller", "replier", []byte("hi"), 1, time.Second, time.Second, 0, md.TransportUDP, nil,
		func(e notify.Event) {
			if e.Kind == notify.MDCompleted {
				ev := e
				completed = &ev
			}
		}, now)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	hdr, data, err := md.ParseFrame(reqFrame)
	if err != nil {
		t.Fatalf("ParseFrame(request): %v", err)
	}
	if hdr.SessionID != sess.ID {
		t.Fatalf("request frame session id mismatch")
	}
	_ = data

	replyHdr := *hdr
	replyHdr.MsgType = 0x4D70 // Mp
	replyFrame := md.BuildFrame(&replyHdr, []byte("ack"))
	decodedHdr, replyData, err := md.ParseFrame(replyFrame)
	if err != nil {
		t.Fatalf("ParseFrame(reply): %v", err)
	}

	for _, ev := range tbl.OnInbound(decodedHdr, replyData, addressing.IP(1), md.TransportUDP, now.Add(time.Millisecond)) {
		ev.Send()
	}

	if completed == nil {
		t.Fatal("expected MDCompleted to fire")
	}
	if completed.NumReplies != 1 {
		t.Errorf("NumReplies = %d, want 1", completed.NumReplies)
	}
	if code, _ := errcodes.Of(completed.Err); completed.Err != nil && code != errcodes.NoErr {
		t.Errorf("Err = %v, want NoErr", completed.Err)
	}
}

func TestTwoKnownRepliersBothAnswer(t *testing.T) {
	tbl := md.NewTable(sessionid.NewGenerator())
	now := time.Now()

	var completedCount, numReplies int
	_, reqFrame, err := tbl.Request(mkTuple(5002), "caller", "group", []byte("q"), 2, time.Second, time.Second, 0, md.TransportUDP, nil,
		func(e notify.Event) {
			if e.Kind == notify.MDCompleted {
				completedCount++
				numReplies = e.NumReplies
			}
		}, now)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	hdr, _, _ := md.ParseFrame(reqFrame)

	sendReply := func(src addressing.IP, at time.Time) {
		h := *hdr
		h.MsgType = 0x4D70 // Mp
		frame := md.BuildFrame(&h, []byte("a"))
		decoded, data, err := md.ParseFrame(frame)
		if err != nil {
			t.Fatalf("ParseFrame: %v", err)
		}
		for _, ev := range tbl.OnInbound(decoded, data, src, md.TransportUDP, at) {
			ev.Send()
		}
	}

	sendReply(addressing.IP(1), now.Add(10*time.Millisecond))
	if completedCount != 0 {
		t.Fatal("must not complete after only one of two expected replies")
	}
	sendReply(addressing.IP(2), now.Add(20*time.Millisecond))

	if completedCount != 1 {
		t.Fatalf("completedCount = %d, want 1", completedCount)
	}
	if numReplies != 2 {
		t.Errorf("numReplies = %d, want 2", numReplies)
	}

	// A timeout check afterward must not re-fire completion.
	events, retries := tbl.CheckTimeouts(now.Add(2 * time.Second))
	if len(events) != 0 || len(retries) != 0 {
		t.Errorf("expected no further events for an already-completed session, got %d events, %d retries", len(events), len(retries))
	}
}

func TestTwoKnownRepliersOnlyOneAnswersTimesOut(t *testing.T) {
	tbl := md.NewTable(sessionid.NewGenerator())
	now := time.Now()

	var code errcodes.Code
	var numReplies int
	var fired bool
	_, reqFrame, err := tbl.Request(mkTuple(5002), "caller", "group", []byte("q"), 2, 500*time.Millisecond, time.Second, 0, md.TransportUDP, nil,
		func(e notify.Event) {
			if e.Kind == notify.MDCompleted {
				fired = true
				numReplies = e.NumReplies
				code, _ = errcodes.Of(e.Err)
			}
		}, now)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	hdr, _, _ := md.ParseFrame(reqFrame)

	h := *hdr
	h.MsgType = 0x4D70
	frame := md.BuildFrame(&h, []byte("a"))
	decoded, data, _ := md.ParseFrame(frame)
	for _, ev := range tbl.OnInbound(decoded, data, addressing.IP(1), md.TransportUDP, now.Add(10*time.Millisecond)) {
		ev.Send()
	}
	if fired {
		t.Fatal("must not complete before the deadline with only 1 of 2 replies")
	}

	deadline := now.Add(500 * time.Millisecond)
	events, _ := tbl.CheckTimeouts(deadline)
	for _, ev := range events {
		ev.Send()
	}

	if !fired {
		t.Fatal("expected completion at reply timeout")
	}
	if numReplies != 1 {
		t.Errorf("numReplies = %d, want 1", numReplies)
	}
	if code != errcodes.ReplyToErr {
		t.Errorf("code = %v, want ReplyToErr", code)
	}

	events, _ = tbl.CheckTimeouts(deadline.Add(time.Millisecond))
	if len(events) != 0 {
		t.Error("MDCompleted must fire exactly once")
	}
}

func TestReplyWithConfirmCallerForgetsConfirm(t *testing.T) {
	tbl := md.NewTable(sessionid.NewGenerator())
	now := time.Now()

	var callerCode errcodes.Code
	var callerFired bool
	sess, reqFrame, err := tbl.Request(mkTuple(6000), "caller", "replier", []byte("r"), 1, time.Second, 300*time.Millisecond, 0, md.TransportUDP, nil,
		func(e notify.Event) {
			if e.Kind == notify.MDCompleted {
				callerFired = true
				callerCode, _ = errcodes.Of(e.Err)
			}
		}, now)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	var listenerCode errcodes.Code
	var listenerFired bool
	tbl.AddListener(mkTuple(6000), time.Second, 300*time.Millisecond, nil, func(e notify.Event) {
		if e.Kind == notify.MDConfirmTimeout {
			listenerFired = true
			listenerCode, _ = errcodes.Of(e.Err)
		}
	})

	reqHdr, reqData, _ := md.ParseFrame(reqFrame)
	for _, ev := range tbl.OnInbound(reqHdr, reqData, addressing.IP(9), md.TransportUDP, now) {
		ev.Send()
	}

	// The listener's spawned session shares the request's wire session
	// id, so the application answers it with ReplyQuery using sess.ID.
	rqFrame, err := tbl.ReplyQuery(sess.ID, "replier", "caller", []byte("query"), now)
	if err != nil {
		t.Fatalf("ReplyQuery: %v", err)
	}

	rqHdr, rqData, err := md.ParseFrame(rqFrame)
	if err != nil {
		t.Fatalf("ParseFrame(replyquery): %v", err)
	}
	for _, ev := range tbl.OnInbound(rqHdr, rqData, addressing.IP(9), md.TransportUDP, now) {
		ev.Send()
	}

	if callerFired {
		t.Fatal("caller session must not complete until confirmed or timed out")
	}

	// The application never calls Confirm. Both sides should time out at
	// their confirm deadlines, in the same tick since both deadlines are
	// now+300ms.
	events, _ := tbl.CheckTimeouts(now.Add(301 * time.Millisecond))
	for _, ev := range events {
		ev.Send()
	}
	if !callerFired {
		t.Fatal("expected caller-side REQCONFIRMTO_ERR completion")
	}
	if callerCode != errcodes.ReqConfirmToErr {
		t.Errorf("caller code = %v, want ReqConfirmToErr", callerCode)
	}
	if !listenerFired {
		t.Fatal("expected listener-side CONFIRMTO_ERR")
	}
	if listenerCode != errcodes.ConfirmToErr {
		t.Errorf("listener code = %v, want ConfirmToErr", listenerCode)
	}
}

func TestNotifyRetiresImmediatelyNoSession(t *testing.T) {
	tbl := md.NewTable(sessionid.NewGenerator())
	now := time.Now()
	frame, err := tbl.Notify(mkTuple(7000), "a", "b", []byte("hello"), now)
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	hdr, data, err := md.ParseFrame(frame)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if hdr.MsgType != 0x4D6E {
		t.Errorf("MsgType = %#x, want Mn", hdr.MsgType)
	}
	if string(data) != "hello" {
		t.Errorf("data = %q, want %q", data, "hello")
	}
	if d := tbl.NextDeadline(); !d.IsZero() {
		t.Errorf("Notify must not arm any deadline, got %v", d)
	}
}
