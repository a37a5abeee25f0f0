package classify

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// CustomCategory is the category id installed when a caller replaces the
// default keyword set with ad-hoc terms.
const CustomCategory = "Custom Search"

// DefaultCategories is the built-in research topic catalog. Callers replace
// it wholesale via config or NewCustomAnalyzer; categories are never merged.
var DefaultCategories = map[string][]string{
	"Core Network Tech": {
		"Open RAN", "O-RAN", "vRAN", "6G", "5G Advanced",
		"Non-Terrestrial Networks", "NTN", "Satellite Communications",
		"SDN", "NFV", "Segment Routing", "Network Slicing",
	},
	"AI & Intelligence": {
		"Semantic Communication", "Integrated Sensing and Communications",
		"ISAC", "Federated Learning", "Edge AI", "Network Intelligence",
		"Digital Twin",
	},
	"Physical Layer": {
		"Terahertz", "THz", "Massive MIMO", "Beamforming", "Signal Processing",
	},
	"Cybersecurity": {
		"Network Security", "Zero Trust", "ZTA", "Post-Quantum Cryptography",
		"PQC", "Blockchain", "Supply Chain Security", "IoT Security",
	},
}

// Analyzer matches free text against a set of keyword categories. Each
// category compiles to a single case-insensitive, word-boundary-anchored
// alternation; categories match independently of one another.
type Analyzer struct {
	patterns map[string]*regexp.Regexp
	order    []string
}

// NewAnalyzer compiles the given category catalog. A nil or empty catalog
// falls back to DefaultCategories.
func NewAnalyzer(categories map[string][]string) (*Analyzer, error) {
	if len(categories) == 0 {
		categories = DefaultCategories
	}
	a := &Analyzer{patterns: make(map[string]*regexp.Regexp, len(categories))}
	for cat, phrases := range categories {
		if len(phrases) == 0 {
			continue
		}
		escaped := make([]string, 0, len(phrases))
		for _, p := range phrases {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			escaped = append(escaped, regexp.QuoteMeta(p))
		}
		if len(escaped) == 0 {
			continue
		}
		re, err := regexp.Compile(`(?i)\b(` + strings.Join(escaped, "|") + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("compile category %q: %w", cat, err)
		}
		a.patterns[cat] = re
		a.order = append(a.order, cat)
	}
	sort.Strings(a.order)
	return a, nil
}

// NewCustomAnalyzer clears the catalog and installs a single category built
// from comma-separated user terms. Custom keywords supersede the defaults
// entirely, they are not additive.
func NewCustomAnalyzer(commaSeparated string) (*Analyzer, error) {
	terms := strings.Split(commaSeparated, ",")
	phrases := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.TrimSpace(t); t != "" {
			phrases = append(phrases, t)
		}
	}
	if len(phrases) == 0 {
		return NewAnalyzer(nil)
	}
	return NewAnalyzer(map[string][]string{CustomCategory: phrases})
}

// Categories returns the ids of every category with at least one phrase
// match in the text, in stable order.
func (a *Analyzer) Categories(text string) []string {
	if text == "" {
		return nil
	}
	var matched []string
	for _, cat := range a.order {
		if a.patterns[cat].MatchString(text) {
			matched = append(matched, cat)
		}
	}
	return matched
}

// IsRelevant reports whether at least one category matches.
func (a *Analyzer) IsRelevant(text string) bool {
	return len(a.Categories(text)) > 0
}
