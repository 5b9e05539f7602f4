package validators

import "strings"

// SanitizeString trims whitespace and caps the input at maxLen runes.
// Prompts are frequently multi-byte, so truncation never splits a rune.
func SanitizeString(input string, maxLen int) string {
	trimmed := strings.TrimSpace(input)
	if maxLen <= 0 {
		return trimmed
	}
	runes := []rune(trimmed)
	if len(runes) > maxLen {
		return string(runes[:maxLen])
	}
	return trimmed
}
