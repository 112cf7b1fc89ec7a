// Package util holds small helpers shared by the cookie and key code.
package util

import "encoding/hex"

// HexEncode returns the lower-case hex form of b.
func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

// HexDecode accepts upper- or lower-case hex.
func HexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
