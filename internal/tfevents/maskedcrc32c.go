// Package tfevents reads and writes TensorBoard event files.
package tfevents

import "hash/crc32"

// crc32cTable computes CRC-32 checksums with the Castagnoli
// polynomial, which tfevents files use.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// MaskedCRC32C computes the "masked" CRC-32C checksum that frames
// records in tfevents files.
//
// The masking (rotate right by 15, add a constant) comes from
// TensorFlow's record writer and is part of the file format.
func MaskedCRC32C(data []byte) uint32 {
	checksum := crc32.Checksum(data, crc32cTable)
	return ((checksum >> 15) | (checksum << 17)) + 0xA282EAD8
}
