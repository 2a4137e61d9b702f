package main

import (
	"flag"
	"net"
	"testing"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/osx"
	"github.com/m-lab/go/rtx"
)

// TestFlagsFromEnv makes sure the demo's flags can be set entirely from
// environment variables, the way a container-orchestrated node would
// configure one, mirroring the teacher's own osx.MustSetenv pattern for
// exercising flag/env wiring without actually running main()'s infinite
// work loop.
func TestFlagsFromEnv(t *testing.T) {
	portFinder, err := net.Listen("tcp", ":0")
	rtx.Must(err, "Could not open a port to discover a free one")
	portFinder.Close()

	for _, v := range []struct{ name, val string }{
		{"OWN", "127.0.0.3"},
		{"PEER", "127.0.0.4"},
		{"COMID", "42"},
		{"CYCLE", "50ms"},
	} {
		cleanup := osx.MustSetenv(v.name, v.val)
		defer cleanup()
	}

	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not load flags from environment")

	if *ownAddr != "127.0.0.3" {
		t.Errorf("ownAddr = %q, want 127.0.0.3", *ownAddr)
	}
	if *peerAddr != "127.0.0.4" {
		t.Errorf("peerAddr = %q, want 127.0.0.4", *peerAddr)
	}
	if *comID != 42 {
		t.Errorf("comID = %d, want 42", *comID)
	}
}

func TestMustIP(t *testing.T) {
	if ip := mustIP("10.0.0.1"); ip.String() != "10.0.0.1" {
		t.Errorf("mustIP(10.0.0.1) round-tripped as %s", ip)
	}
}
