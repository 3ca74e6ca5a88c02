package services

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

const (
	maxGiftMessageRunes  = 255
	maxNotesRunes        = 1000
	maxDescriptionRunes  = 2000
	maxReasonRunes       = 500
	maxReferenceRunes    = 128
	maxCarrierNameRunes  = 64
	maxTrackingCodeRunes = 64
)

var plainTextPolicy = bluemonday.StrictPolicy()

// cleanText applies NFC normalisation and trims surrounding whitespace. Text carrying markup
// is rejected, never rewritten; entity-encoded text is kept exactly as typed. Length limits are
// checked by callers on the result so that composed characters count once.
func cleanText(value, field string) (string, error) {
	cleaned := strings.TrimSpace(norm.NFC.String(value))
	if containsMarkup(cleaned) {
		return "", invalidInput("%s must not contain markup", field)
	}
	return cleaned, nil
}

// containsMarkup reports whether the strict policy would drop anything from value. The policy
// re-escapes the text it keeps, so both sides are compared unescaped.
func containsMarkup(value string) bool {
	if !strings.ContainsAny(value, "<>") {
		return false
	}
	return html.UnescapeString(plainTextPolicy.Sanitize(value)) != html.UnescapeString(value)
}

func cleanOptionalText(value *string, field string, limit int) (*string, error) {
	if value == nil {
		return nil, nil
	}
	cleaned, err := cleanText(*value, field)
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(cleaned) > limit {
		return nil, invalidInput("%s must be at most %d characters", field, limit)
	}
	return &cleaned, nil
}
