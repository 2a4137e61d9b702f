package wire

import "hash/crc32"

// crcTable is the standard IEEE 802.3 CRC-32 table (polynomial 0xEDB88320),
// the polynomial the protocol's header/data CRC test vectors are built
// against. hash/crc32's IEEE table is byte-identical to it, so we reuse it
// rather than hand-rolling a table: no pack example ships its own CRC-32,
// and the stdlib implementation already matches the required polynomial and
// initial value bit-for-bit.
var crcTable = crc32.IEEETable

// ChecksumIEEE returns the CRC-32 of data over the IEEE polynomial.
func ChecksumIEEE(data []byte) uint32 {
	return crc32.Checksum(data, crcTable)
}
