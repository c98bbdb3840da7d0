package detect

import "strings"

// Redact replaces each detected span in text with a typed placeholder like
// [REDACTED:SSN]. Spans are applied right to left so earlier offsets stay
// valid while later ones are rewritten. Overlapping detections should have
// been merged before calling.
func Redact(text string, detections []Detection) string {
	if len(detections) == 0 {
		return text
	}

	ordered := make([]Detection, len(detections))
	copy(ordered, detections)
	sortDetections(ordered)

	var b strings.Builder
	last := 0
	for _, d := range ordered {
		if d.Start < last || d.Start < 0 || d.End > len(text) {
			continue
		}
		b.WriteString(text[last:d.Start])
		b.WriteString(Placeholder(d.Kind))
		last = d.End
	}
	b.WriteString(text[last:])
	return b.String()
}

// Placeholder returns the typed marker substituted for a redacted span.
func Placeholder(kind EntityKind) string {
	return "[REDACTED:" + string(kind) + "]"
}
