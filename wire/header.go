// Package wire implements the PD and MD frame header layouts and their
// on-the-wire, big-endian encoding. Fields are read and written one at a
// time with encoding/binary rather than through a pointer cast onto a
// packed struct, so the encoding is correct on alignment-strict
// architectures and independent of the host's struct layout rules.
package wire

import (
	"encoding/binary"
	"fmt"
)

// PDHeaderSize is the encoded size, in bytes, of a PDHeader.
const PDHeaderSize = 40

// PDHeader is the fixed header that precedes every PD frame's payload.
type PDHeader struct {
	SequenceCounter uint32
	ProtocolVersion uint16
	MsgType         MsgType
	ComID           uint32
	EtbTopoCnt      uint32
	OpTrnTopoCnt    uint32
	DatasetLength   uint32
	Reserved        uint32
	ReplyComID      uint32
	ReplyIPAddr     uint32
	HeaderCRC       uint32
}

// Encode writes the header's wire representation, including its own CRC,
// into a freshly allocated PDHeaderSize-byte slice.
func (h *PDHeader) Encode() []byte {
	buf := make([]byte, PDHeaderSize)
	h.encodeInto(buf)
	return buf
}

func (h *PDHeader) encodeInto(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], h.SequenceCounter)
	binary.BigEndian.PutUint16(buf[4:6], h.ProtocolVersion)
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.MsgType))
	binary.BigEndian.PutUint32(buf[8:12], h.ComID)
	binary.BigEndian.PutUint32(buf[12:16], h.EtbTopoCnt)
	binary.BigEndian.PutUint32(buf[16:20], h.OpTrnTopoCnt)
	binary.BigEndian.PutUint32(buf[20:24], h.DatasetLength)
	binary.BigEndian.PutUint32(buf[24:28], h.Reserved)
	binary.BigEndian.PutUint32(buf[28:32], h.ReplyComID)
	binary.BigEndian.PutUint32(buf[32:36], h.ReplyIPAddr)
	h.HeaderCRC = ChecksumIEEE(buf[0:36])
	binary.BigEndian.PutUint32(buf[36:40], h.HeaderCRC)
}

// DecodePDHeader parses a PDHeader from buf and validates its header CRC.
// It returns the header and the remainder of buf (the payload+trailer).
func DecodePDHeader(buf []byte) (*PDHeader, []byte, error) {
	if len(buf) < PDHeaderSize {
		return nil, nil, fmt.Errorf("wire: short PD header, got %d want %d", len(buf), PDHeaderSize)
	}
	h := &PDHeader{
		SequenceCounter: binary.BigEndian.Uint32(buf[0:4]),
		ProtocolVersion: binary.BigEndian.Uint16(buf[4:6]),
		MsgType:         MsgType(binary.BigEndian.Uint16(buf[6:8])),
		ComID:           binary.BigEndian.Uint32(buf[8:12]),
		EtbTopoCnt:      binary.BigEndian.Uint32(buf[12:16]),
		OpTrnTopoCnt:    binary.BigEndian.Uint32(buf[16:20]),
		DatasetLength:   binary.BigEndian.Uint32(buf[20:24]),
		Reserved:        binary.BigEndian.Uint32(buf[24:28]),
		ReplyComID:      binary.BigEndian.Uint32(buf[28:32]),
		ReplyIPAddr:     binary.BigEndian.Uint32(buf[32:36]),
		HeaderCRC:       binary.BigEndian.Uint32(buf[36:40]),
	}
	if ChecksumIEEE(buf[0:36]) != h.HeaderCRC {
		return nil, nil, ErrHeaderCRC
	}
	return h, buf[PDHeaderSize:], nil
}

// MDHeaderSize is the encoded size, in bytes, of an MDHeader.
const MDHeaderSize = 116

const (
	sessionIDLen = 16
	uriLen       = 32
)

// MDHeader is the fixed header that precedes every MD frame's payload.
type MDHeader struct {
	SequenceCounter uint32
	ProtocolVersion uint16
	MsgType         MsgType
	ComID           uint32
	EtbTopoCnt      uint32
	OpTrnTopoCnt    uint32
	DatasetLength   uint32
	ReplyStatus     int32
	SessionID       [sessionIDLen]byte
	ReplyTimeout    uint32
	SourceURI       [uriLen]byte
	DestinationURI  [uriLen]byte
	HeaderCRC       uint32
}

// SetSourceURI zero-pads and copies s into the SourceURI field.
func (h *MDHeader) SetSourceURI(s string) { setURI(&h.SourceURI, s) }

// SetDestinationURI zero-pads and copies s into the DestinationURI field.
func (h *MDHeader) SetDestinationURI(s string) { setURI(&h.DestinationURI, s) }

func setURI(field *[uriLen]byte, s string) {
	for i := range field {
		field[i] = 0
	}
	copy(field[:], s)
}

func uriString(field [uriLen]byte) string {
	n := 0
	for n < len(field) && field[n] != 0 {
		n++
	}
	return string(field[:n])
}

// SourceURIString returns the zero-padded source URI as a Go string.
func (h *MDHeader) SourceURIString() string { return uriString(h.SourceURI) }

// DestinationURIString returns the zero-padded destination URI as a Go string.
func (h *MDHeader) DestinationURIString() string { return uriString(h.DestinationURI) }

// Encode writes the header's wire representation, including its own CRC,
// into a freshly allocated MDHeaderSize-byte slice.
func (h *MDHeader) Encode() []byte {
	buf := make([]byte, MDHeaderSize)
	h.encodeInto(buf)
	return buf
}

func (h *MDHeader) encodeInto(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], h.SequenceCounter)
	binary.BigEndian.PutUint16(buf[4:6], h.ProtocolVersion)
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.MsgType))
	binary.BigEndian.PutUint32(buf[8:12], h.ComID)
	binary.BigEndian.PutUint32(buf[12:16], h.EtbTopoCnt)
	binary.BigEndian.PutUint32(buf[16:20], h.OpTrnTopoCnt)
	binary.BigEndian.PutUint32(buf[20:24], h.DatasetLength)
	binary.BigEndian.PutUint32(buf[24:28], uint32(h.ReplyStatus))
	copy(buf[28:28+sessionIDLen], h.SessionID[:])
	off := 28 + sessionIDLen
	binary.BigEndian.PutUint32(buf[off:off+4], h.ReplyTimeout)
	off += 4
	copy(buf[off:off+uriLen], h.SourceURI[:])
	off += uriLen
	copy(buf[off:off+uriLen], h.DestinationURI[:])
	off += uriLen
	h.HeaderCRC = ChecksumIEEE(buf[0:off])
	binary.BigEndian.PutUint32(buf[off:off+4], h.HeaderCRC)
}

// DecodeMDHeader parses an MDHeader from buf and validates its header CRC.
func DecodeMDHeader(buf []byte) (*MDHeader, []byte, error) {
	if len(buf) < MDHeaderSize {
		return nil, nil, fmt.Errorf("wire: short MD header, got %d want %d", len(buf), MDHeaderSize)
	}
	h := &MDHeader{
		SequenceCounter: binary.BigEndian.Uint32(buf[0:4]),
		ProtocolVersion: binary.BigEndian.Uint16(buf[4:6]),
		MsgType:         MsgType(binary.BigEndian.Uint16(buf[6:8])),
		ComID:           binary.BigEndian.Uint32(buf[8:12]),
		EtbTopoCnt:      binary.BigEndian.Uint32(buf[12:16]),
		OpTrnTopoCnt:    binary.BigEndian.Uint32(buf[16:20]),
		DatasetLength:   binary.BigEndian.Uint32(buf[20:24]),
		ReplyStatus:     int32(binary.BigEndian.Uint32(buf[24:28])),
	}
	copy(h.SessionID[:], buf[28:28+sessionIDLen])
	off := 28 + sessionIDLen
	h.ReplyTimeout = binary.BigEndian.Uint32(buf[off : off+4])
	off += 4
	copy(h.SourceURI[:], buf[off:off+uriLen])
	off += uriLen
	copy(h.DestinationURI[:], buf[off:off+uriLen])
	off += uriLen
	h.HeaderCRC = binary.BigEndian.Uint32(buf[off : off+4])
	if ChecksumIEEE(buf[0:off]) != h.HeaderCRC {
		return nil, nil, ErrHeaderCRC
	}
	return h, buf[MDHeaderSize:], nil
}

// ErrHeaderCRC is returned when a decoded header's CRC does not match.
var ErrHeaderCRC = fmt.Errorf("wire: header CRC mismatch")

// MDFrameLength returns the total wire length of an MD frame whose
// header advertises datasetLength bytes of payload: header + zero-padded
// data + CRC trailer. A TCP reader uses this once it has decoded the
// header to know how many more bytes complete the frame (spec.md §4.5
// "TCP receive accumulates bytes...until a full frame is assembled").
func MDFrameLength(datasetLength uint32) int {
	return MDHeaderSize + alignTo4(int(datasetLength)) + 4
}

// PeekMsgType reads the msgType field shared by the PD and MD header
// layouts (both place it at the same offset) without fully decoding
// either header, so a reader can pick the right decoder before it has
// seen the rest of the frame.
func PeekMsgType(buf []byte) (MsgType, error) {
	if len(buf) < 8 {
		return 0, fmt.Errorf("wire: too short to contain a msgType, got %d bytes", len(buf))
	}
	return MsgType(binary.BigEndian.Uint16(buf[6:8])), nil
}

// alignTo4 rounds n up to the next multiple of 4.
func alignTo4(n int) int {
	return (n + 3) &^ 3
}

// EncodeDataWithCRC returns a new slice holding data zero-padded to a
// 4-byte boundary, followed by the CRC-32 trailer computed over the
// un-padded data.
func EncodeDataWithCRC(data []byte) []byte {
	padded := alignTo4(len(data))
	out := make([]byte, padded+4)
	copy(out, data)
	crc := ChecksumIEEE(data)
	binary.BigEndian.PutUint32(out[padded:padded+4], crc)
	return out
}

// SplitDataAndCRC reads back a data+CRC trailer produced by
// EncodeDataWithCRC, given the original (un-padded) data length. It
// verifies the trailing CRC and returns the unpadded data.
func SplitDataAndCRC(buf []byte, dataLen int) ([]byte, error) {
	padded := alignTo4(dataLen)
	if len(buf) < padded+4 {
		return nil, fmt.Errorf("wire: short data+CRC trailer, got %d want %d", len(buf), padded+4)
	}
	data := buf[:dataLen]
	want := binary.BigEndian.Uint32(buf[padded : padded+4])
	if ChecksumIEEE(data) != want {
		return nil, ErrDataCRC
	}
	return data, nil
}

// ErrDataCRC is returned when a decoded payload's trailing CRC does not match.
var ErrDataCRC = fmt.Errorf("wire: data CRC mismatch")
