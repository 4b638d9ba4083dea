package clipboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractURL_HTTPAccepted(t *testing.T) {
	v := NewValidator()
	assert.Equal(t, "https://example.com/file.zip", v.ExtractURL("  https://example.com/file.zip  "))
}

func TestExtractURL_MagnetAccepted(t *testing.T) {
	v := NewValidator()
	magnet := "magnet:?xt=urn:btih:c12fe1c06bba254a9dc9f519b335aa7c1367a88a&dn=x"
	assert.Equal(t, magnet, v.ExtractURL(magnet))
}

func TestExtractURL_GenericHeuristic(t *testing.T) {
	v := NewValidator()
	assert.Equal(t, "cdn.example.com/a.mp4", v.ExtractURL("cdn.example.com/a.mp4"))
}

func TestExtractURL_RejectsPlainText(t *testing.T) {
	v := NewValidator()
	assert.Empty(t, v.ExtractURL("just some notes I copied"))
	assert.Empty(t, v.ExtractURL("ab"))
	// Not plain text: a dotted token without whitespace passes the generic heuristic.
	assert.Equal(t, "ftp://example.com/file", v.ExtractURL("ftp://example.com/file"))
}

func TestExtractURL_RejectsOversizedOrMultiline(t *testing.T) {
	v := NewValidator()
	huge := make([]byte, 3000)
	for i := range huge {
		huge[i] = 'a'
	}
	assert.Empty(t, v.ExtractURL(string(huge)))
	assert.Empty(t, v.ExtractURL("https://example.com\nhttps://evil.com"))
}
