package language

import (
	"strings"

	xlang "golang.org/x/text/language"
)

// Full word forms accepted in config alongside codes.
var words = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
	"russian":    "ru",
	"arabic":     "ar",
	"hindi":      "hi",
	"dutch":      "nl",
	"polish":     "pl",
	"swedish":    "sv",
	"danish":     "da",
	"norwegian":  "no",
	"finnish":    "fi",
}

// Parse resolves a BCP 47 tag, ISO 639-1/639-2 code or English word form.
// Unrecognized or empty input yields language.Und and false.
func Parse(value string) (xlang.Tag, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" || value == "auto" {
		return xlang.Und, false
	}
	if code, ok := words[value]; ok {
		value = code
	}
	value = strings.ReplaceAll(value, "_", "-")
	tag, err := xlang.Parse(value)
	if err != nil || tag == xlang.Und {
		return xlang.Und, false
	}
	return tag, true
}

// ToISO2 returns the two-letter base language, or "" when value is not
// recognized or has no two-letter form.
func ToISO2(value string) string {
	tag, ok := Parse(value)
	if !ok {
		return ""
	}
	base, _ := tag.Base()
	code := base.String()
	if len(code) != 2 {
		return ""
	}
	return code
}

// ToBCP47 returns a region-qualified tag such as "en-US". A bare language is
// completed with its most likely region. Unrecognized input returns fallback.
func ToBCP47(value, fallback string) string {
	tag, ok := Parse(value)
	if !ok {
		return fallback
	}
	base, _ := tag.Base()
	region, _ := tag.Region()
	if region.String() == "ZZ" {
		return base.String()
	}
	return base.String() + "-" + region.String()
}
