package ledger

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MaxMemoBytes is the largest topic memo the relay accepts.
const MaxMemoBytes = 100

// Memo builds the CREATE_TOPIC memo for a meeting: "<prefix>: <meetingID>
// <Title> (<platform>)". The title is title-cased and stripped of control
// characters; the result is truncated to MaxMemoBytes on a rune boundary.
func Memo(prefix, meetingID, title, platform string) string {
	var b strings.Builder
	if p := cleanWords(prefix); p != "" {
		b.WriteString(p)
		b.WriteString(": ")
	}
	b.WriteString(meetingID)
	b.WriteByte(' ')
	if t := cleanWords(title); t != "" {
		b.WriteString(cases.Title(language.Und).String(t))
		b.WriteByte(' ')
	}
	if p := cleanWords(platform); p != "" {
		b.WriteString("(" + strings.ToLower(p) + ")")
	}
	return truncateBytes(strings.TrimSpace(b.String()), MaxMemoBytes)
}

// cleanWords keeps letters, digits and common punctuation and collapses
// whitespace runs.
func cleanWords(value string) string {
	var b strings.Builder
	prevSpace := false
	for _, r := range value {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r) || strings.ContainsRune("&'#.,:+", r):
			b.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '/':
			if !prevSpace && b.Len() > 0 {
				b.WriteRune(' ')
				prevSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func truncateBytes(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return strings.TrimSpace(value[:cut])
}
