package lexicon

import (
	"regexp"
	"strings"
)

// Default denylist of diagnostic and prescriptive vocabulary. Patient-facing
// text explains findings and suggests tests, it never diagnoses disease or
// prescribes treatment. The list is replaceable through configuration.
var defaultDenylist = []string{
	"diagnose",
	"diagnosis",
	"diagnosed",
	"you have diabetes",
	"you have cancer",
	"prescribe",
	"prescription required",
	"take medication",
	"start taking",
	"stop taking",
	"increase your dose",
	"decrease your dose",
	"you are suffering from",
	"treatment plan",
	"cure",
}

// Denylist screens text against a set of prohibited terms. Matching is
// case-insensitive and bounded at word edges, so "cure" does not flag
// "accurate".
type Denylist struct {
	patterns map[string]*regexp.Regexp
}

// NewDenylist builds a denylist from the given terms. Empty terms are
// skipped. Passing nil selects the built-in default list.
func NewDenylist(terms []string) *Denylist {
	if terms == nil {
		terms = defaultDenylist
	}
	patterns := make(map[string]*regexp.Regexp, len(terms))
	for _, term := range terms {
		t := strings.TrimSpace(strings.ToLower(term))
		if t == "" {
			continue
		}
		patterns[t] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(t) + `\b`)
	}
	return &Denylist{patterns: patterns}
}

// Scan returns every denylisted term found in the text, sorted by first
// occurrence. An empty result means the text is clean.
func (d *Denylist) Scan(text string) []string {
	type hit struct {
		term string
		pos  int
	}
	hits := make([]hit, 0)
	for term, pattern := range d.patterns {
		loc := pattern.FindStringIndex(text)
		if loc != nil {
			hits = append(hits, hit{term: term, pos: loc[0]})
		}
	}
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.term
	}
	return out
}

// Clean reports whether the text contains no denylisted terms.
func (d *Denylist) Clean(text string) bool {
	for _, pattern := range d.patterns {
		if pattern.MatchString(text) {
			return false
		}
	}
	return true
}
