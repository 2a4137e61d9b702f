package pd

import "github.com/tcnopen/trdpgo/wire"

// BuildFrame assembles a complete PD wire frame: an encoded header
// followed by the zero-padded payload and its CRC-32 trailer (spec.md
// §3). BuildFrame sets header.DatasetLength to len(data) before encoding.
func BuildFrame(header *wire.PDHeader, data []byte) []byte {
	header.DatasetLength = uint32(len(data))
	hdr := header.Encode()
	trailer := wire.EncodeDataWithCRC(data)
	out := make([]byte, 0, len(hdr)+len(trailer))
	out = append(out, hdr...)
	out = append(out, trailer...)
	return out
}

// ParseFrame decodes a complete PD wire frame, validating both the
// header CRC and the trailing data CRC.
func ParseFrame(buf []byte) (*wire.PDHeader, []byte, error) {
	header, rest, err := wire.DecodePDHeader(buf)
	if err != nil {
		return nil, nil, err
	}
	data, err := wire.SplitDataAndCRC(rest, int(header.DatasetLength))
	if err != nil {
		return nil, nil, err
	}
	return header, data, nil
}
