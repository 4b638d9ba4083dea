package bt

import (
	"encoding/base32"
	"encoding/hex"
	"strings"
)

// InfoHash extracts and normalizes the info-hash from a magnet URI of the
// form magnet:?xt=urn:btih:<hash>&..., accepting both the 40-char hex and
// 32-char base32 encodings BEP 9 allows. Returns "" if no btih token is
// present or it doesn't decode to a valid 20-byte hash.
func InfoHash(magnet string) string {
	lower := strings.ToLower(magnet)
	idx := strings.Index(lower, "btih:")
	if idx == -1 {
		return ""
	}

	start := idx + len("btih:")
	end := start
	for end < len(magnet) && magnet[end] != '&' {
		end++
	}
	token := magnet[start:end]

	switch len(token) {
	case 40:
		if _, err := hex.DecodeString(token); err != nil {
			return ""
		}
		return strings.ToLower(token)
	case 32:
		raw, err := base32.StdEncoding.DecodeString(strings.ToUpper(token))
		if err != nil || len(raw) != 20 {
			return ""
		}
		return hex.EncodeToString(raw)
	default:
		return ""
	}
}
