package bt

import (
	"encoding/base32"
	"encoding/hex"
	"testing"
)

func TestInfoHashHex(t *testing.T) {
	magnet := "magnet:?xt=urn:btih:c12fe1c06bba254a9dc9f519b335aa7c1367a88a&dn=x"
	got := InfoHash(magnet)
	want := "c12fe1c06bba254a9dc9f519b335aa7c1367a88a"
	if got != want {
		t.Errorf("InfoHash() = %q, want %q", got, want)
	}
}

func TestInfoHashBase32(t *testing.T) {
	// Base32 encoding of the same 20-byte hash as the hex test above.
	hexHash := "c12fe1c06bba254a9dc9f519b335aa7c1367a88a"
	raw, err := hex.DecodeString(hexHash)
	if err != nil {
		t.Fatalf("decode test hash: %v", err)
	}
	token := base32.StdEncoding.EncodeToString(raw)
	magnet := "magnet:?xt=urn:btih:" + token + "&dn=x"

	got := InfoHash(magnet)
	if got != hexHash {
		t.Errorf("InfoHash() = %q, want %q", got, hexHash)
	}
}

func TestInfoHashNoMatch(t *testing.T) {
	if got := InfoHash("magnet:?xt=urn:sha1:abc"); got != "" {
		t.Errorf("InfoHash() = %q, want empty", got)
	}
}

func TestInfoHashInvalidLength(t *testing.T) {
	if got := InfoHash("magnet:?xt=urn:btih:tooshort&dn=x"); got != "" {
		t.Errorf("InfoHash() = %q, want empty", got)
	}
}
