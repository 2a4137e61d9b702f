// trdpdemo is a minimal reference node: it opens one session, publishes a
// cyclic PD telegram to a peer address, subscribes to the same comId
// from its own address, and answers any MD request addressed to it with
// an echo reply.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/tcnopen/trdpgo/addressing"
	"github.com/tcnopen/trdpgo/notify"
	"github.com/tcnopen/trdpgo/pd"
	"github.com/tcnopen/trdpgo/session"
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	ownAddr  = flag.String("own", "127.0.0.1", "This node's own IPv4 address")
	peerAddr = flag.String("peer", "", "Peer IPv4 address to publish PD telegrams to (default: own address, loopback echo)")
	comID    = flag.Uint("comid", 1000, "comId used for the demo PD telegram and MD service")
	cycle    = flag.Duration("cycle", 100*time.Millisecond, "PD publication cycle time")
	promPort = flag.String("prom", ":9090", "Prometheus metrics export address and port")
)

var errInvalidIPv4 = errors.New("not a valid IPv4 address")

func mustIP(s string) addressing.IP {
	ip := net.ParseIP(s)
	var err error
	if ip == nil || ip.To4() == nil {
		err = errInvalidIPv4
	}
	rtx.Must(err, "Could not parse IPv4 address %q", s)
	return addressing.FromNetIP(ip)
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from environment variables")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	promSrv := prometheusx.MustStartPrometheus(*promPort)
	defer promSrv.Shutdown(ctx)

	own := mustIP(*ownAddr)
	peer := own
	if *peerAddr != "" {
		peer = mustIP(*peerAddr)
	}

	opts := session.DefaultOptions()
	sess, err := session.OpenSession(own, own, nil, opts)
	rtx.Must(err, "Could not open TRDP session on %s", *ownAddr)
	defer sess.Close()

	tuple := addressing.Tuple{ComID: uint32(*comID), SrcIP: own, DestIP: peer}

	_, err = sess.SubscribePD(tuple, 3*(*cycle), pd.KeepLast, nil, func(e notify.Event) {
		log.Printf("PD comId=%d from=%s bytes=%d", e.ComID, e.Source, len(e.Data))
	})
	rtx.Must(err, "Could not subscribe to comId %d", *comID)

	_, err = sess.PublishPD(tuple, *cycle, 0, []byte("trdpdemo"), 0)
	rtx.Must(err, "Could not publish comId %d", *comID)

	sess.ListenMD(tuple, time.Second, time.Second, nil, func(e notify.Event) {
		if e.Kind != notify.MDRequestReceived {
			return
		}
		log.Printf("MD request comId=%d from=%s bytes=%d, echoing reply", e.ComID, e.Source, len(e.Data))
		if err := sess.ReplyMD(e.SessionID, "", "", e.Data); err != nil {
			log.Printf("ReplyMD failed: %v", err)
		}
	})

	log.Printf("trdpdemo running: own=%s peer=%s comId=%d", *ownAddr, peer, *comID)
	runLoop(sess, opts.CycleTime)
}

// runLoop drives the session's cooperative work loop forever, waking up
// either when Process has a job due or at most every cycleTime (spec.md
// §4.1's getInterval/process pattern).
func runLoop(sess *session.Session, cycleTime time.Duration) {
	for {
		now := time.Now()
		sess.Process(now)

		next := sess.NextDeadline()
		wait := cycleTime
		if !next.IsZero() {
			if d := next.Sub(now); d > 0 && d < wait {
				wait = d
			}
		}
		if wait <= 0 {
			wait = time.Millisecond
		}
		time.Sleep(wait)
	}
}
