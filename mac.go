package client

import (
	"strings"
	"unicode"
)

// NormalizeMAC returns mac as twelve lower-case hex digits. Colon, dash, dot
// and whitespace separators are accepted in any position and letter case is
// ignored, so "AA:BB:CC:DD:EE:FF", "aa-bb-cc-dd-ee-ff" and "AABB.CCDD.EEFF"
// all normalize to "aabbccddeeff".
func NormalizeMAC(mac string) (string, error) {
	var b strings.Builder
	b.Grow(12)

	for _, r := range mac {
		switch {
		case r == ':' || r == '-' || r == '.' || unicode.IsSpace(r):
			continue
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f':
			b.WriteRune(r)
		case r >= 'A' && r <= 'F':
			b.WriteRune(unicode.ToLower(r))
		default:
			return "", &InvalidMACError{MAC: mac}
		}
	}

	if b.Len() != 12 {
		return "", &InvalidMACError{MAC: mac}
	}

	return b.String(), nil
}

// FormatMAC returns mac as upper-case hex pairs joined by separator.
func FormatMAC(mac, separator string) (string, error) {
	normalized, err := NormalizeMAC(mac)
	if err != nil {
		return "", err
	}

	pairs := make([]string, 0, 6)
	for i := 0; i < len(normalized); i += 2 {
		pairs = append(pairs, strings.ToUpper(normalized[i:i+2]))
	}

	return strings.Join(pairs, separator), nil
}

// IsValidMAC reports whether mac can be normalized.
func IsValidMAC(mac string) bool {
	_, err := NormalizeMAC(mac)
	return err == nil
}
