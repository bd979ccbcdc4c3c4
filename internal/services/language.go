package services

import (
	"strings"
	"unicode"
)

// Supported reply languages. Unrecognized input falls back to English.
const (
	LangEnglish = "en"
	LangChinese = "zh"
	LangMalay   = "ms"
	LangTamil   = "ta"
)

// Common Malay words that rarely appear in English support messages
var malayMarkers = map[string]bool{
	"saya": true, "anda": true, "boleh": true, "tolong": true,
	"terima": true, "kasih": true, "macam": true, "mana": true,
	"berapa": true, "harga": true, "bila": true, "kenapa": true,
	"tidak": true, "dengan": true, "untuk": true, "sudah": true,
	"belum": true, "hantar": true, "bayar": true, "pesanan": true,
}

// LanguageDetector picks the customer's language from message text. Script
// detection handles Chinese and Tamil; Malay is separated from English by
// marker words since both use Latin script.
type LanguageDetector struct{}

// NewLanguageDetector creates a new language detector
func NewLanguageDetector() *LanguageDetector {
	return &LanguageDetector{}
}

// Detect returns the dominant language code for a text
func (d *LanguageDetector) Detect(text string) string {
	if text == "" {
		return LangEnglish
	}

	var han, tamil, letters int
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			han++
		case unicode.Is(unicode.Tamil, r):
			tamil++
		case unicode.IsLetter(r):
			letters++
		}
	}

	total := han + tamil + letters
	if total == 0 {
		return LangEnglish
	}

	// Script share thresholds; short mixed messages lean toward the script
	if float64(han)/float64(total) > 0.3 {
		return LangChinese
	}
	if float64(tamil)/float64(total) > 0.3 {
		return LangTamil
	}

	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return LangEnglish
	}
	malayHits := 0
	for _, w := range words {
		if malayMarkers[strings.Trim(w, ".,!?;:")] {
			malayHits++
		}
	}
	if float64(malayHits)/float64(len(words)) >= 0.2 {
		return LangMalay
	}

	return LangEnglish
}

// IsSupported reports whether the code is a supported reply language
func (d *LanguageDetector) IsSupported(code string) bool {
	switch code {
	case LangEnglish, LangChinese, LangMalay, LangTamil:
		return true
	default:
		return false
	}
}
