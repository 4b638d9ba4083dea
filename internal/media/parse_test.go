package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSize(t *testing.T) {
	cases := map[string]int64{
		"150.00MiB": 150 * 1024 * 1024,
		"512KiB":    512 * 1024,
		"1.5GiB":    int64(1.5 * 1024 * 1024 * 1024),
		"900B":      900,
		"":          0,
		"NaN":       0,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseSize(in), "input %q", in)
	}
}

func TestParseETA(t *testing.T) {
	assert.Equal(t, 75, parseETA("1:15"))
	assert.Equal(t, 3661, parseETA("1:01:01"))
	assert.Equal(t, 0, parseETA("Unknown"))
}

func TestParseDownloadLine(t *testing.T) {
	line := "[download]  45.2% of  150.00MiB at  5.00MiB/s ETA 00:15"
	parsed := parseDownloadLine(line)

	assert.True(t, parsed.ok)
	assert.InDelta(t, 45.2, parsed.percent, 0.01)
	assert.Equal(t, int64(150*1024*1024), parsed.total)
	assert.Equal(t, int64(5*1024*1024), parsed.speed)
	assert.Equal(t, 15, parsed.eta)
}

func TestParseDownloadLine_NotAProgressLine(t *testing.T) {
	parsed := parseDownloadLine("[info] some other output")
	assert.False(t, parsed.ok)
}

func TestDestinationLine(t *testing.T) {
	path, ok := destinationLine("[download] Destination: /tmp/video.f137.mp4")
	assert.True(t, ok)
	assert.Equal(t, "/tmp/video.f137.mp4", path)

	_, ok = destinationLine("[download]  45.2% of  150.00MiB")
	assert.False(t, ok)
}

func TestPhaseLine(t *testing.T) {
	tag, ok := phaseLine("[Merger] Merging formats into \"out.mp4\"")
	assert.True(t, ok)
	assert.Contains(t, tag, "Merger")

	_, ok = phaseLine("not bracketed")
	assert.False(t, ok)
}
