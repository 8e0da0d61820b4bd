package contract

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxSanitizedFieldLen caps free-text payload values before they are written
// to the durable store. Full content lives with the agent, not in audit rows.
const maxSanitizedFieldLen = 2048

// SanitizePayload returns a copy of the payload safe for durable storage:
// string values have control characters stripped and are truncated. The
// original map is never modified.
func SanitizePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		switch val := v.(type) {
		case string:
			out[k] = SanitizeText(val)
		case map[string]any:
			out[k] = SanitizePayload(val)
		default:
			out[k] = v
		}
	}
	return out
}

// SanitizeText strips control characters (except newline and tab) and
// truncates to the storage cap.
func SanitizeText(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	if len(cleaned) > maxSanitizedFieldLen {
		cut := maxSanitizedFieldLen
		// Back up to a rune boundary so the cut never stores invalid UTF-8.
		for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
			cut--
		}
		cleaned = cleaned[:cut]
	}
	return cleaned
}
