package gpt_jsonl

import (
	"strings"
	"unicode/utf8"
)

// toValidUTF8 converts bs to a string, replacing every maximal ill-formed
// subsequence with a single U+FFFD.
func toValidUTF8(bs []byte) string {
	if utf8.Valid(bs) {
		return string(bs)
	}
	var sb strings.Builder
	sb.Grow(len(bs) + 8)
	for idx := 0; idx < len(bs); {
		r, size := utf8.DecodeRune(bs[idx:])
		if r != utf8.RuneError || size > 1 {
			sb.Write(bs[idx : idx+size])
			idx += size
			continue
		}
		sb.WriteRune(utf8.RuneError)
		idx += invalidPrefixLen(bs[idx:])
	}
	return sb.String()
}

// invalidPrefixLen returns how many bytes of an ill-formed sequence at the
// start of p form its maximal subpart: a lead byte followed by the
// continuation bytes that could still have completed it.
func invalidPrefixLen(p []byte) int {
	var need int
	lo, hi := byte(0x80), byte(0xBF)
	switch lead := p[0]; {
	case lead >= 0xC2 && lead <= 0xDF:
		need = 2
	case lead == 0xE0:
		need, lo = 3, 0xA0
	case lead == 0xED:
		need, hi = 3, 0x9F
	case lead >= 0xE1 && lead <= 0xEF:
		need = 3
	case lead == 0xF0:
		need, lo = 4, 0x90
	case lead == 0xF4:
		need, hi = 4, 0x8F
	case lead >= 0xF1 && lead <= 0xF3:
		need = 4
	default:
		return 1
	}
	if len(p) < 2 || p[1] < lo || p[1] > hi {
		return 1
	}
	n := 2
	for n < need && n < len(p) && p[n] >= 0x80 && p[n] <= 0xBF {
		n++
	}
	return n
}
