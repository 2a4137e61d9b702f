package md

import "github.com/tcnopen/trdpgo/wire"

// BuildFrame assembles a complete MD wire frame: an encoded header followed
// by the zero-padded payload and its CRC-32 trailer (spec.md §3).
// BuildFrame sets header.DatasetLength to len(data) before encoding.
func BuildFrame(header *wire.MDHeader, data []byte) []byte {
	header.DatasetLength = uint32(len(data))
	hdr := header.Encode()
	trailer := wire.EncodeDataWithCRC(data)
	out := make([]byte, 0, len(hdr)+len(trailer))
	out = append(out, hdr...)
	out = append(out, trailer...)
	return out
}

// ParseFrame decodes a complete MD wire frame, validating both the header
// CRC and the trailing data CRC.
func ParseFrame(buf []byte) (*wire.MDHeader, []byte, error) {
	header, rest, err := wire.DecodeMDHeader(buf)
	if err != nil {
		return nil, nil, err
	}
	data, err := wire.SplitDataAndCRC(rest, int(header.DatasetLength))
	if err != nil {
		return nil, nil, err
	}
	return header, data, nil
}
