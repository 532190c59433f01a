package redisclusterutil

import "strings"

// NumSlots is the number of hash slots in redis cluster.
const NumSlots = 1 << 14

var crc16tab = func() (t [256]uint16) {
	for i := range t {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}()

// CRC16 is CRC16-CCITT (XMODEM) checksum used by redis cluster for key hashing.
func CRC16(buf []byte) uint16 {
	var crc uint16
	for _, b := range buf {
		crc = crc<<8 ^ crc16tab[byte(crc>>8)^b]
	}
	return crc
}

// Slot returns slot number for the key.
// If key contains non-empty hash tag ("{...}"), only tag is hashed.
func Slot(key string) uint16 {
	if start := strings.IndexByte(key, '{'); start != -1 {
		if end := strings.IndexByte(key[start+1:], '}'); end > 0 {
			key = key[start+1 : start+1+end]
		}
	}
	return CRC16([]byte(key)) % NumSlots
}
