package translate

import (
	"unicode"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
)

// DetectLocale guesses the locale of text from its script: Thai, then Han, else English.
func DetectLocale(text string) ingest.Locale {
	hasHan := false
	for _, r := range text {
		if unicode.Is(unicode.Thai, r) {
			return ingest.LocaleTH
		}
		if unicode.Is(unicode.Han, r) {
			hasHan = true
		}
	}
	if hasHan {
		return ingest.LocaleZH
	}
	return ingest.LocaleEN
}

var localeNames = map[ingest.Locale]string{
	ingest.LocaleEN: "English",
	ingest.LocaleZH: "Simplified Chinese (简体中文)",
	ingest.LocaleTH: "Thai (ภาษาไทย)",
}
