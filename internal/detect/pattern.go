package detect

import (
	"context"
	"regexp"
	"strings"
)

// PatternEngineName identifies the deterministic detector in Records and
// audit detail.
const PatternEngineName = "pattern"

// Compiled patterns for structured PII. These run unconditionally: even when
// the high-recall engine is down, structured identifiers are still caught.
var (
	// 123-45-6789 with separators, excluding known-invalid area prefixes.
	ssnRe = regexp.MustCompile(`\b(\d{3})[- ](\d{2})[- ](\d{4})\b`)

	emailRe = regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`)

	// North-American phone formats with optional country code.
	phoneRe = regexp.MustCompile(`(?:\+?1[-. ])?\(?\d{3}\)?[-. ]\d{3}[-. ]\d{4}\b`)

	// 13-19 digits with optional separators; validated with a Luhn check
	// before it counts as a card number.
	cardRe = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)

	ipv4Re = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)

	// Court case citations: "2:21-cv-01234", "21-CR-4567".
	caseNumberRe = regexp.MustCompile(`\b(?:\d{1,2}:)?\d{2}-(?i:cv|cr|mc|cj|md)-\d{3,6}\b`)

	// Medical record numbers announced by their own prefix.
	medicalIDRe = regexp.MustCompile(`(?i)\bMRN[:# ]\s*\d{5,10}\b`)

	// DOB in common numeric forms.
	dobRe = regexp.MustCompile(`\b(?:0?[1-9]|1[0-2])[/-](?:0?[1-9]|[12]\d|3[01])[/-](?:19|20)\d{2}\b`)
)

// Base confidences for pattern findings. Formats that are unambiguous score
// high; formats that collide with ordinary numbers sit near or below the
// default threshold and rely on context enhancement to survive it.
var patternConfidence = map[EntityKind]float64{
	EntitySSN:         0.92,
	EntityEmail:       0.95,
	EntityPhone:       0.85,
	EntityCreditCard:  0.90,
	EntityIPAddress:   0.90,
	EntityCaseNumber:  0.80,
	EntityMedicalID:   0.88,
	EntityDateOfBirth: 0.75,
}

// PatternDetector finds structured PII with regular expressions plus checksum
// validation. It is pure and deterministic.
type PatternDetector struct{}

// NewPatternDetector returns the always-available deterministic detector.
func NewPatternDetector() *PatternDetector { return &PatternDetector{} }

func (d *PatternDetector) Name() string { return PatternEngineName }

// Detect scans text and returns all structured findings sorted by position.
func (d *PatternDetector) Detect(_ context.Context, text string) ([]Detection, error) {
	var out []Detection

	add := func(kind EntityKind, start, end int) {
		out = append(out, Detection{
			Kind:       kind,
			Confidence: patternConfidence[kind],
			Start:      start,
			End:        end,
			Value:      text[start:end],
			Engine:     PatternEngineName,
		})
	}

	for _, loc := range ssnRe.FindAllStringIndex(text, -1) {
		if validSSN(text[loc[0]:loc[1]]) {
			add(EntitySSN, loc[0], loc[1])
		}
	}
	for _, loc := range emailRe.FindAllStringIndex(text, -1) {
		add(EntityEmail, loc[0], loc[1])
	}
	for _, loc := range phoneRe.FindAllStringIndex(text, -1) {
		add(EntityPhone, loc[0], loc[1])
	}
	for _, loc := range cardRe.FindAllStringIndex(text, -1) {
		digits := digitsOnly(text[loc[0]:loc[1]])
		if len(digits) >= 13 && len(digits) <= 19 && luhnValid(digits) {
			add(EntityCreditCard, loc[0], loc[1])
		}
	}
	for _, loc := range ipv4Re.FindAllStringIndex(text, -1) {
		if validIPv4Octets(text[loc[0]:loc[1]]) {
			add(EntityIPAddress, loc[0], loc[1])
		}
	}
	for _, loc := range caseNumberRe.FindAllStringIndex(text, -1) {
		add(EntityCaseNumber, loc[0], loc[1])
	}
	for _, loc := range medicalIDRe.FindAllStringIndex(text, -1) {
		add(EntityMedicalID, loc[0], loc[1])
	}
	for _, loc := range dobRe.FindAllStringIndex(text, -1) {
		add(EntityDateOfBirth, loc[0], loc[1])
	}

	sortDetections(out)
	return out, nil
}

// validSSN rejects structurally impossible SSNs (000/666/9xx area, zero
// group or serial) so dates and part numbers do not slip through.
func validSSN(s string) bool {
	m := ssnRe.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	area, group, serial := m[1], m[2], m[3]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	if group == "00" || serial == "0000" {
		return false
	}
	return true
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// luhnValid implements the Luhn checksum used by payment card numbers.
func luhnValid(digits string) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func validIPv4Octets(s string) bool {
	for _, part := range strings.Split(s, ".") {
		if len(part) > 1 && part[0] == '0' {
			return false
		}
		n := 0
		for _, r := range part {
			n = n*10 + int(r-'0')
		}
		if n > 255 {
			return false
		}
	}
	return true
}
