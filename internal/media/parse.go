package media

import (
	"strconv"
	"strings"
)

// parseSize parses a yt-dlp size token like "12.34MiB" or "512KiB" into
// bytes. Accepts both binary (Ki/Mi/Gi) and decimal (K/M/G) suffixes,
// case-insensitively, matching the unit forms yt-dlp prints for --newline
// progress lines.
func parseSize(s string) int64 {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)

	var factor float64 = 1
	switch {
	case strings.Contains(lower, "gib"):
		factor = 1024 * 1024 * 1024
	case strings.Contains(lower, "mib"):
		factor = 1024 * 1024
	case strings.Contains(lower, "kib"):
		factor = 1024
	case strings.Contains(lower, "gb"):
		factor = 1_000_000_000
	case strings.Contains(lower, "mb"):
		factor = 1_000_000
	case strings.Contains(lower, "kb"):
		factor = 1_000
	case strings.Contains(lower, "b"):
		factor = 1
	}

	var numBuf strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			numBuf.WriteRune(r)
		} else {
			break
		}
	}

	num, err := strconv.ParseFloat(numBuf.String(), 64)
	if err != nil {
		return 0
	}
	return int64(num * factor)
}

// parseETA parses an "M:SS" or "H:MM:SS" ETA token into seconds. Returns 0
// for anything unparseable (yt-dlp prints "Unknown" until it has a rate).
func parseETA(s string) int {
	parts := strings.Split(strings.TrimSpace(s), ":")
	nums := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0
		}
		nums = append(nums, n)
	}

	switch len(nums) {
	case 2:
		return nums[0]*60 + nums[1]
	case 3:
		return nums[0]*3600 + nums[1]*60 + nums[2]
	default:
		return 0
	}
}

// downloadLine is the parsed shape of one "[download]  45.2% of  150.00MiB
// at  5.00MiB/s ETA 00:15" progress line.
type downloadLine struct {
	percent float64
	total   int64
	speed   int64
	eta     int
	ok      bool
}

// parseDownloadLine extracts progress fields from a yt-dlp --newline
// progress line. Fields absent from the line (e.g. speed while stalled)
// are left zero; ok reports whether a percentage was found at all.
func parseDownloadLine(line string) downloadLine {
	var out downloadLine
	if !strings.Contains(line, "[download]") || !strings.Contains(line, "%") {
		return out
	}

	fields := strings.Fields(line)
	for i, f := range fields {
		switch {
		case strings.HasSuffix(f, "%"):
			if v, err := strconv.ParseFloat(strings.TrimSuffix(f, "%"), 64); err == nil {
				out.percent = v
				out.ok = true
			}
		case f == "of" && i+1 < len(fields):
			out.total = parseSize(fields[i+1])
		case f == "at" && i+1 < len(fields):
			out.speed = parseSize(strings.TrimSuffix(fields[i+1], "/s"))
		case f == "ETA" && i+1 < len(fields):
			out.eta = parseETA(fields[i+1])
		}
	}
	return out
}

// destinationLine reports the path on a "[download] Destination: …" line,
// marking the start of a new file part in a multi-part (video+audio) fetch.
func destinationLine(line string) (string, bool) {
	const marker = "[download] Destination: "
	if !strings.HasPrefix(line, marker) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, marker)), true
}

// phaseLine reports a bracketed phase marker ([Merger], [ffmpeg], ...) that
// should update status_text; the whole trimmed line is returned.
func phaseLine(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "[") {
		return "", false
	}
	end := strings.Index(trimmed, "]")
	if end < 0 {
		return "", false
	}
	tag := trimmed[1:end]
	switch tag {
	case "Merger", "ffmpeg", "ExtractAudio", "VideoRemuxer", "FixupM4a":
		return trimmed, true
	}
	return "", false
}
