package frame

import (
	"encoding/base64"

	"github.com/snksoft/crc"
)

// ChecksumLen is the number of characters in the checksum field.
const ChecksumLen = 3

const checksumMask = 1<<18 - 1

// CRC18 parameters: https://users.ece.cmu.edu/~koopman/crc/c18/0x25f53.txt
// Check value for "123456789" is 0x23A17.
var CRC18 = &crc.Parameters{
	Width:      18,
	Polynomial: 0xBEA7,
	Init:       0x00000,
	ReflectIn:  false,
	ReflectOut: false,
	FinalXor:   0x00000,
}

var crc18Table = crc.NewTable(CRC18)

// Checksum returns the 18-bit CRC of data.
func Checksum(data []byte) uint32 {
	return uint32(crc18Table.CalculateCRC(data)) & checksumMask
}

// The 18-bit value is rendered as a 3-byte big-endian integer in URL-safe
// base64. The first of the four characters only ever carries zero bits, so
// it is dropped on the wire and restored as "A" when parsing.
func appendChecksum(dst []byte, sum uint32) []byte {
	raw := [3]byte{byte(sum >> 16), byte(sum >> 8), byte(sum)}
	var enc [4]byte
	base64.URLEncoding.Encode(enc[:], raw[:])
	return append(dst, enc[1:]...)
}

func parseChecksum(field []byte) (uint32, error) {
	var src [4]byte
	src[0] = 'A'
	copy(src[1:], field)
	var raw [3]byte
	if _, err := base64.URLEncoding.Decode(raw[:], src[:]); err != nil {
		return 0, err
	}
	v := uint32(raw[0])<<16 | uint32(raw[1])<<8 | uint32(raw[2])
	return v & checksumMask, nil
}
