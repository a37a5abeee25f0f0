// Package inquiry detects faculty and lab pages whose language suggests
// openness to new PhD or PostDoc applicants, independent of a formal posting.
package inquiry

import (
	"regexp"
	"strings"
)

// Positive signals, English. The raw pattern string doubles as the pattern
// id reported in results.
var englishPatterns = []string{
	`accepting\s+(?:new\s+)?phd\s+(?:student|candidate)`,
	`looking\s+for\s+(?:motivated\s+)?(?:phd\s+)?(?:student|candidate)`,
	`seeking\s+(?:talented\s+)?(?:phd\s+)?(?:student|candidate|researcher)`,
	`recruiting\s+(?:phd\s+)?(?:student|candidate)`,
	`phd\s+(?:position|opening)s?\s+available`,
	`phd\s+(?:student|candidate)s?\s+wanted`,
	`interested\s+(?:student|candidate)s?\s+(?:should|are encouraged to)\s+(?:contact|apply)`,
	`open\s+to\s+(?:accepting|supervising)\s+(?:phd\s+)?student`,
	`currently\s+accepting\s+applications?\s+from\s+(?:phd\s+)?student`,
	`we\s+are\s+looking\s+for\s+phd\s+(?:student|candidate)`,
	`join\s+(?:our|my)\s+(?:research\s+)?(?:group|lab|team)\s+as\s+(?:a\s+)?phd`,
	`(?:phd|doctoral)\s+opportunities?\s+available`,
	`prospective\s+(?:phd\s+)?students?\s+(?:should|are encouraged to)\s+contact`,
	`we\s+have\s+(?:funded\s+)?phd\s+(?:position|opening)`,
	`always\s+(?:looking|interested)\s+in\s+(?:talented\s+)?(?:phd\s+)?student`,
	`year-round\s+phd\s+(?:recruitment|applications?)`,
	`all\s+year\s+(?:phd\s+)?applications?`,

	// Social feed phrasings.
	`#phdposition`,
	`#phd(?:opportunity|opening|vacancy)`,
	`#hiring.*phd`,
	`dm\s+me\s+if\s+interested.*phd`,
	`apply\s+(?:now|here).*phd\s+(?:position|student)`,
	`we'?re\s+hiring.*phd`,

	// PostDoc variants; the call site filters by position type if desired.
	`accepting\s+postdoc\s+(?:application|candidate)`,
	`postdoc(?:toral)?\s+(?:position|opening)s?\s+available`,
	`seeking\s+postdoc(?:toral)?\s+(?:researcher|fellow)`,
	`recruiting\s+postdoc`,
}

// Positive signals, German.
var germanPatterns = []string{
	`suchen?\s+(?:derzeit\s+)?doktorand(?:en|in)`,
	`promotionsstellen?\s+verfügbar`,
	`doktorarbeit(?:en)?\s+(?:möglich|verfügbar)`,
	`interessierte\s+(?:studierende|bewerber)\s+(?:können|sollten)\s+sich\s+(?:melden|bewerben)`,
	`zur\s+promotion\s+gesucht`,
	`phd-stelle(?:n)?\s+zu\s+vergeben`,
	`wir\s+suchen\s+doktorand`,
	`offene\s+promotionsstelle`,
	`bewerbungen?\s+für\s+(?:eine\s+)?promotion`,
	`postdoc-?stelle(?:n)?\s+verfügbar`,
	`suchen?\s+postdoc`,
}

// Closure phrases. Any hit suppresses every positive signal on the page,
// regardless of where on the page it appears.
var negativePatterns = []string{
	`no\s+(?:longer\s+)?accepting\s+(?:application|student)`,
	`not\s+currently\s+accepting`,
	`position\s+(?:has\s+been\s+)?filled`,
	`(?:application|recruitment)\s+closed`,
	`deadline\s+passed`,
	`keine\s+(?:freie|offene)\s+stelle`,
	`nicht\s+mehr\s+verfügbar`,
	`stelle\s+besetzt`,
}

const snippetRadius = 100
const maxSnippets = 3

// Result is the structured outcome of a page scan.
type Result struct {
	HasSignal       bool     `json:"has_signal"`
	MatchedPatterns []string `json:"matched_patterns"`
	ContextSnippets []string `json:"context_snippets"`
	SignalStrength  int      `json:"signal_strength"`
	RejectionReason string   `json:"rejection_reason,omitempty"`
}

// Contact holds first-match contact details extracted from page text.
type Contact struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type compiledPattern struct {
	id string
	re *regexp.Regexp
}

// Detector scans page text for openness signals.
type Detector struct {
	positive []compiledPattern
	negative []*regexp.Regexp
	emailRe  *regexp.Regexp
	phoneRe  *regexp.Regexp
}

// New compiles the built-in English and German pattern lists.
func New() *Detector {
	d := &Detector{
		emailRe: regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
		phoneRe: regexp.MustCompile(`\+?\d{1,4}[\s\-.]?\(?\d{1,4}\)?[\s\-.]?\d{1,4}[\s\-.]?\d{1,9}`),
	}
	for _, p := range append(append([]string{}, englishPatterns...), germanPatterns...) {
		d.positive = append(d.positive, compiledPattern{id: p, re: regexp.MustCompile(`(?i)` + p)})
	}
	for _, p := range negativePatterns {
		d.negative = append(d.negative, regexp.MustCompile(`(?i)`+p))
	}
	return d
}

// Scan inspects page text for openness-to-applicants signals. Negative
// closure phrases dominate globally: one hit anywhere rejects the page even
// if positive phrases are present elsewhere. positionType is recorded for
// the caller's benefit only; both PhD and PostDoc variants are always
// checked and filtered downstream.
func (d *Detector) Scan(text string, _ string) Result {
	if text == "" {
		return Result{}
	}

	for _, re := range d.negative {
		if re.MatchString(text) {
			return Result{RejectionReason: "negative_signal_detected"}
		}
	}

	var res Result
	seen := make(map[string]bool)
	for _, p := range d.positive {
		locs := p.re.FindAllStringIndex(text, -1)
		if locs == nil {
			continue
		}
		res.SignalStrength += len(locs)
		if !seen[p.id] {
			seen[p.id] = true
			res.MatchedPatterns = append(res.MatchedPatterns, p.id)
		}
		for _, loc := range locs {
			if len(res.ContextSnippets) >= maxSnippets {
				break
			}
			start := max(0, loc[0]-snippetRadius)
			end := min(len(text), loc[1]+snippetRadius)
			res.ContextSnippets = append(res.ContextSnippets, strings.TrimSpace(text[start:end]))
		}
	}
	res.HasSignal = res.SignalStrength > 0
	return res
}

// ExtractContact pulls the first email and phone number found in the text.
// First match wins; no validation beyond the syntactic regex.
func (d *Detector) ExtractContact(text string) Contact {
	var c Contact
	if m := d.emailRe.FindString(text); m != "" {
		c.Email = m
	}
	if m := d.phoneRe.FindString(text); m != "" {
		c.Phone = m
	}
	return c
}

var relevantPageIndicators = []string{
	"/faculty/", "/staff/", "/people/", "/team/",
	"/professor/", "/researcher/", "/principal-investigator/",
	"/group/", "/lab/", "/research-group/",
	"personnel", "mitarbeiter", "personal",
	"opportunities", "positions", "jobs", "careers",
	"join-us", "join", "recruiting", "openings",
}

var irrelevantPageIndicators = []string{
	"/news/", "/events/", "/publications/",
	"/contact/", "/about/", "/sitemap/",
	".pdf", ".doc", ".ppt",
}

// RelevantPageType reports whether a URL or page title looks like a faculty,
// group, or openings page worth scanning. Default is not relevant.
func (d *Detector) RelevantPageType(url, title string) bool {
	urlLower := strings.ToLower(url)
	titleLower := strings.ToLower(title)

	for _, ind := range relevantPageIndicators {
		if strings.Contains(urlLower, ind) || strings.Contains(titleLower, ind) {
			return true
		}
	}
	for _, ind := range irrelevantPageIndicators {
		if strings.Contains(urlLower, ind) {
			return false
		}
	}
	return false
}
