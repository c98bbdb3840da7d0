package detect

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Options tunes the merge/enhancement algorithm. The overlap threshold and
// boost magnitude are deliberately configurable rather than hard-coded; the
// defaults are a starting point to validate empirically.
type Options struct {
	// Threshold is the minimum confidence a finding needs after merging and
	// enhancement. Default 0.85.
	Threshold float64

	// Boost is added to a finding's confidence per context pass when a cue
	// keyword appears nearby, capped at 1.0. Default 0.10.
	Boost float64

	// OverlapFraction is the fraction of either span that two findings must
	// share before they merge. Default 0.5.
	OverlapFraction float64

	// ContextSpan is how many characters around a finding are inspected for
	// cue keywords. Default 50.
	ContextSpan int

	// Exclusions suppresses known false positives: organization names that
	// are also common words, jurisdiction names. Compared case-insensitively
	// against the matched text.
	Exclusions []string
}

// DefaultOptions returns the tuning defaults.
func DefaultOptions() Options {
	return Options{
		Threshold:       0.85,
		Boost:           0.10,
		OverlapFraction: 0.5,
		ContextSpan:     50,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Threshold == 0 {
		o.Threshold = d.Threshold
	}
	if o.Boost == 0 {
		o.Boost = d.Boost
	}
	if o.OverlapFraction == 0 {
		o.OverlapFraction = d.OverlapFraction
	}
	if o.ContextSpan == 0 {
		o.ContextSpan = d.ContextSpan
	}
	return o
}

// fileConfig is the YAML shape for operator-supplied detection tuning.
type fileConfig struct {
	Exclusions []string `yaml:"exclusions"`
}

// LoadExclusions reads an exclusion list from a YAML file. A missing path is
// not an error; the engine simply runs without extra suppressions.
func LoadExclusions(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read detect config: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse detect config: %w", err)
	}
	return cfg.Exclusions, nil
}

// contextCues maps entity kinds to keywords whose proximity raises
// confidence. Matching is case-insensitive.
var contextCues = map[EntityKind][]string{
	EntitySSN:         {"ssn", "social security", "taxpayer"},
	EntityCaseNumber:  {"case no", "case number", "docket", "plaintiff", "defendant", "filed"},
	EntityMedicalID:   {"mrn", "medical record", "patient", "chart"},
	EntityPerson:      {"plaintiff", "defendant", "witness", "dr.", "mr.", "ms.", "mrs."},
	EntityPhone:       {"phone", "tel", "call", "fax", "mobile"},
	EntityCreditCard:  {"card", "visa", "mastercard", "amex", "payment"},
	EntityDateOfBirth: {"dob", "date of birth", "born"},
}

// cueNear reports whether any cue for kind appears within the window around
// the span [start,end).
func cueNear(text string, kind EntityKind, start, end, window int) bool {
	cues := contextCues[kind]
	if len(cues) == 0 {
		return false
	}
	lo := max(0, start-window)
	hi := min(len(text), end+window)
	surround := strings.ToLower(text[lo:hi])
	for _, cue := range cues {
		if strings.Contains(surround, cue) {
			return true
		}
	}
	return false
}
