package sessionid_test

import (
	"testing"

	"github.com/tcnopen/trdpgo/sessionid"
)

func TestNewIsUnique(t *testing.T) {
	g := sessionid.NewGenerator()
	seen := make(map[sessionid.ID]bool)
	for i := 0; i < 1000; i++ {
		id := g.New()
		if seen[id] {
			t.Fatalf("duplicate session id minted: %v", id)
		}
		seen[id] = true
	}
}

func TestZeroValueNotReturnedByGenerator(t *testing.T) {
	g := sessionid.NewGenerator()
	if g.New().IsZero() {
		t.Error("New() should never mint the all-zero id")
	}
}

func TestStringNonEmpty(t *testing.T) {
	g := sessionid.NewGenerator()
	if s := g.New().String(); len(s) == 0 {
		t.Error("String() should not be empty")
	}
}
