package clipboard

import (
	"net/url"
	"strings"

	"github.com/atotto/clipboard"
)

// Validator checks and extracts valid downloadable URLs from text
type Validator struct {
	allowedSchemes map[string]bool
}

// NewValidator creates a new URL validator
func NewValidator() *Validator {
	return &Validator{
		allowedSchemes: map[string]bool{"http": true, "https": true},
	}
}

// ExtractURL validates and returns a clean URL, or empty string if invalid.
// Accepts http(s) URLs, magnet links, and the generic auto-catch heuristic
// (contains a dot, no whitespace, length > 3) for everything else that
// looks like a bare download link.
func (v *Validator) ExtractURL(text string) string {
	text = strings.TrimSpace(text)

	// Quick reject: too long, contains newlines, or obviously not a URL
	if len(text) > 2048 || strings.ContainsAny(text, "\n\r") {
		return ""
	}

	if strings.HasPrefix(text, "magnet:") {
		return text
	}

	if strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://") {
		parsed, err := url.Parse(text)
		if err != nil || parsed.Host == "" || !v.allowedSchemes[parsed.Scheme] {
			return ""
		}
		return parsed.String()
	}

	if len(text) > 3 && !strings.ContainsAny(text, " \t") && strings.Contains(text, ".") {
		return text
	}

	return ""
}

// ReadURL reads the clipboard and returns a valid URL if found, or empty string otherwise
func ReadURL() string {
	text, err := clipboard.ReadAll()
	if err != nil {
		return ""
	}
	validator := NewValidator()
	return validator.ExtractURL(text)
}
