package services

import (
	"regexp"
)

// piiPattern pairs a detector with its mask label
type piiPattern struct {
	label string
	re    *regexp.Regexp
}

// Order matters: NRIC/FIN before phone so the digit runs inside an ID
// number are not partially masked as a phone number.
var piiPatterns = []piiPattern{
	{"NRIC", regexp.MustCompile(`\b[STst]\d{7}[A-Za-z]\b`)},
	{"FIN", regexp.MustCompile(`\b[FGMfgm]\d{7}[A-Za-z]\b`)},
	{"EMAIL", regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)},
	{"PHONE", regexp.MustCompile(`(?:\+65[\s\-]?)?\b[689]\d{3}[\s\-]?\d{4}\b`)},
	{"POSTAL", regexp.MustCompile(`\b[Ss]ingapore\s+\d{6}\b`)},
}

// PIIScrubber masks Singapore personal identifiers before text reaches
// logs, the session store, or external providers. The engine scrubs every
// inbound message up front, so nothing downstream ever sees a raw
// identifier.
type PIIScrubber struct{}

// NewPIIScrubber creates a new PII scrubber
func NewPIIScrubber() *PIIScrubber {
	return &PIIScrubber{}
}

// Scrub replaces each detected identifier with a typed mask
func (s *PIIScrubber) Scrub(text string) string {
	for _, p := range piiPatterns {
		text = p.re.ReplaceAllString(text, "["+p.label+"_MASKED]")
	}
	return text
}

// ContainsPII reports whether the text holds any detectable identifier
func (s *PIIScrubber) ContainsPII(text string) bool {
	for _, p := range piiPatterns {
		if p.re.MatchString(text) {
			return true
		}
	}
	return false
}
