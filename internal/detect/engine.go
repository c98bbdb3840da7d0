package detect

import (
	"context"
	"sort"
	"strings"
)

// Result carries the surviving detections plus whether the engine ran
// without its high-recall backend.
type Result struct {
	Detections []Detection
	// Degraded is true when the NER detector was configured but failed, so
	// only the pattern engine contributed. Callers record this in audit
	// detail: some protection is better than none, but the mode must be
	// visible.
	Degraded bool
}

// Engine composes the detector backends with the fixed merge, context
// enhancement, exclusion, and threshold steps. Detect is a pure function of
// (text, configuration): identical input yields identical output.
type Engine struct {
	pattern Detector
	ner     Detector // nil when no high-recall backend is configured
	opts    Options
}

// NewEngine builds an engine. ner may be nil.
func NewEngine(ner Detector, opts Options) *Engine {
	return &Engine{
		pattern: NewPatternDetector(),
		ner:     ner,
		opts:    opts.withDefaults(),
	}
}

// Detect runs both detectors, merges overlapping spans, applies context
// enhancement and exclusions, and filters by the confidence threshold.
// The scanned text is never retained or truncated.
func (e *Engine) Detect(ctx context.Context, text string) (Result, error) {
	var res Result

	var findings []Detection
	if e.ner != nil {
		nerFindings, err := e.ner.Detect(ctx, text)
		if err != nil {
			// Fall back to the deterministic detector rather than failing the
			// whole ingestion; the caller surfaces the degraded mode.
			res.Degraded = true
		} else {
			findings = append(findings, nerFindings...)
		}
	}

	patternFindings, err := e.pattern.Detect(ctx, text)
	if err != nil {
		return res, err
	}
	findings = append(findings, patternFindings...)

	merged := mergeOverlaps(findings, e.opts.OverlapFraction)

	var kept []Detection
	for _, d := range merged {
		if e.excluded(d.Value) {
			continue
		}
		if cueNear(text, d.Kind, d.Start, d.End, e.opts.ContextSpan) {
			d.Confidence = clamp01(d.Confidence + e.opts.Boost)
		}
		if d.Confidence >= e.opts.Threshold {
			kept = append(kept, d)
		}
	}

	sortDetections(kept)
	res.Detections = kept
	return res, nil
}

// Threshold exposes the configured confidence floor for reporting.
func (e *Engine) Threshold() float64 { return e.opts.Threshold }

func (e *Engine) excluded(value string) bool {
	for _, term := range e.opts.Exclusions {
		if strings.EqualFold(strings.TrimSpace(value), term) {
			return true
		}
	}
	return false
}

// mergeOverlaps drops the lower-confidence finding whenever two findings
// share more than the given fraction of either span, so no byte range is
// double-counted. Ties break deterministically: longer span, then earlier
// start, then pattern engine over NER.
func mergeOverlaps(findings []Detection, fraction float64) []Detection {
	if len(findings) < 2 {
		return findings
	}

	ranked := make([]Detection, len(findings))
	copy(ranked, findings)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if la, lb := a.End-a.Start, b.End-b.Start; la != lb {
			return la > lb
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.Engine == PatternEngineName && b.Engine != PatternEngineName
	})

	var kept []Detection
	for _, cand := range ranked {
		conflict := false
		for _, k := range kept {
			ofCand, ofKept := overlapFraction(cand, k)
			if ofCand > fraction || ofKept > fraction {
				conflict = true
				break
			}
		}
		if !conflict {
			kept = append(kept, cand)
		}
	}
	return kept
}

func sortDetections(ds []Detection) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].Start != ds[j].Start {
			return ds[i].Start < ds[j].Start
		}
		return ds[i].End < ds[j].End
	})
}
