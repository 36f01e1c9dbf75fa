package recorder

// EncodeBytes turns raw PTY bytes into a JSON-string-safe form that
// round-trips losslessly even when the bytes are not valid UTF-8.
//
// encoding/json replaces invalid UTF-8 with the Unicode replacement
// character when marshaling a Go string, which would corrupt terminal
// output that isn't valid UTF-8. Instead each input byte is mapped to
// the Unicode code point of the same value (0x00..0xFF), which is
// always valid UTF-8 and therefore survives json.Marshal untouched;
// DecodeBytes reverses the mapping byte-for-byte.
func EncodeBytes(b []byte) string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

// DecodeBytes reverses EncodeBytes.
func DecodeBytes(s string) []byte {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	out := make([]byte, len(runes))
	for i, r := range runes {
		out[i] = byte(r)
	}
	return out
}
