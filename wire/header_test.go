package wire_test

import (
	"log"
	"testing"

	"github.com/go-test/deep"
	"github.com/tcnopen/trdpgo/wire"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

func TestPDHeaderRoundTrip(t *testing.T) {
	h := &wire.PDHeader{
		SequenceCounter: 42,
		ProtocolVersion: wire.ProtocolVersion1,
		MsgType:         wire.MsgPD,
		ComID:           1001,
		EtbTopoCnt:      7,
		OpTrnTopoCnt:    9,
		DatasetLength:   16,
		ReplyComID:      0,
		ReplyIPAddr:     0,
	}
	buf := h.Encode()
	if len(buf) != wire.PDHeaderSize {
		t.Fatalf("Encode length = %d, want %d", len(buf), wire.PDHeaderSize)
	}

	got, rest, err := wire.DecodePDHeader(buf)
	if err != nil {
		t.Fatalf("DecodePDHeader: %v", err)
	}
	if len(rest) != 0 {
		t.Errorf("rest length = %d, want 0", len(rest))
	}
	if diff := deep.Equal(got, h); diff != nil {
		t.Errorf("round trip mismatch: %v", diff)
	}
}

func TestPDHeaderCRCMismatch(t *testing.T) {
	h := &wire.PDHeader{ComID: 5, MsgType: wire.MsgPD}
	buf := h.Encode()
	buf[0] ^= 0xFF // corrupt sequence counter without fixing the CRC

	if _, _, err := wire.DecodePDHeader(buf); err != wire.ErrHeaderCRC {
		t.Errorf("DecodePDHeader error = %v, want ErrHeaderCRC", err)
	}
}

func TestPDHeaderShort(t *testing.T) {
	if _, _, err := wire.DecodePDHeader(make([]byte, wire.PDHeaderSize-1)); err == nil {
		t.Error("expected an error for a short buffer")
	}
}

func TestMDHeaderRoundTrip(t *testing.T) {
	h := &wire.MDHeader{
		SequenceCounter: 1,
		ProtocolVersion: wire.ProtocolVersionSvc,
		MsgType:         wire.MsgMDRequest,
		ComID:           5002,
		ReplyStatus:     0,
		ReplyTimeout:    1_000_000,
	}
	h.SetSourceURI("caller@train")
	h.SetDestinationURI("replier@train")
	for i := range h.SessionID {
		h.SessionID[i] = byte(i)
	}

	buf := h.Encode()
	if len(buf) != wire.MDHeaderSize {
		t.Fatalf("Encode length = %d, want %d", len(buf), wire.MDHeaderSize)
	}
	got, _, err := wire.DecodeMDHeader(buf)
	if err != nil {
		t.Fatalf("DecodeMDHeader: %v", err)
	}
	if diff := deep.Equal(got, h); diff != nil {
		t.Errorf("round trip mismatch: %v", diff)
	}
	if got.SourceURIString() != "caller@train" {
		t.Errorf("SourceURIString = %q", got.SourceURIString())
	}
	if got.DestinationURIString() != "replier@train" {
		t.Errorf("DestinationURIString = %q", got.DestinationURIString())
	}
}

func TestDataCRCRoundTrip(t *testing.T) {
	data := []byte("hello trdp")
	enc := wire.EncodeDataWithCRC(data)

	// Padded to a 4-byte boundary plus the 4-byte CRC trailer.
	wantLen := ((len(data) + 3) &^ 3) + 4
	if len(enc) != wantLen {
		t.Fatalf("len(enc) = %d, want %d", len(enc), wantLen)
	}

	got, err := wire.SplitDataAndCRC(enc, len(data))
	if err != nil {
		t.Fatalf("SplitDataAndCRC: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("got %q, want %q", got, data)
	}
}

func TestDataCRCMismatch(t *testing.T) {
	data := []byte("hello trdp")
	enc := wire.EncodeDataWithCRC(data)
	enc[0] ^= 0xFF

	if _, err := wire.SplitDataAndCRC(enc, len(data)); err != wire.ErrDataCRC {
		t.Errorf("SplitDataAndCRC error = %v, want ErrDataCRC", err)
	}
}
