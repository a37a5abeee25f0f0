// Package hunter defines core types shared across the position-scout subsystems.
package hunter

// Timestamp layouts used in every persisted file. The forms are shared with
// the dashboard and operator tooling and must not change.
const (
	DateFormat      = "2006-01-02"
	TimestampFormat = "2006-01-02 15:04:05"
)

// PositionType selects which class of openings a run targets.
type PositionType string

// Supported position types.
const (
	PositionPhD     PositionType = "phd"
	PositionPostDoc PositionType = "postdoc"
)

// SearchType names one of the discovery strategies a run may enable.
type SearchType string

// Supported search types.
const (
	SearchOpen       SearchType = "open"
	SearchInquiry    SearchType = "inquiry"
	SearchProfessors SearchType = "professors"
)

// JobStatus represents the lifecycle state of a stored posting.
type JobStatus string

// Job status values persisted in the history store.
const (
	StatusActive  JobStatus = "active"
	StatusExpired JobStatus = "expired"
	StatusUnknown JobStatus = "unknown"
)

// Posting is a raw candidate record handed over by a scraper source.
// Sources may emit duplicates sharing the same URL; the history store is
// responsible for collapsing them.
type Posting struct {
	Title      string `json:"title"`
	University string `json:"university"`
	Country    string `json:"country,omitempty"`
	URL        string `json:"url"`
	FoundDate  string `json:"found_date"`
	Source     string `json:"source"`
}

// JobRecord is a Posting plus lifecycle state. Identity is the exact URL
// string; no normalization is applied, so URLs differing only by a trailing
// slash or tracking parameters are distinct records.
type JobRecord struct {
	Posting
	Status      JobStatus `json:"status"`
	LastChecked string    `json:"last_checked"`
}

// InquiryOpportunity describes a faculty or lab page whose language suggests
// openness to new applicants, independent of a formal posting. Opportunities
// are transient per run and are not written to the history store.
type InquiryOpportunity struct {
	Professor       string   `json:"professor"`
	University      string   `json:"university"`
	Country         string   `json:"country"`
	ResearchAreas   string   `json:"research_areas"`
	URL             string   `json:"url"`
	Email           string   `json:"email"`
	SignalStrength  int      `json:"signal_strength"`
	MatchedPatterns []string `json:"matched_patterns"`
	ContextSnippet  string   `json:"context_snippet"`
	Source          string   `json:"source"`
}

// ProfessorProfile is a faculty member whose listed research interests match
// the run's keywords.
type ProfessorProfile struct {
	Name          string `json:"name"`
	Title         string `json:"title"`
	University    string `json:"university"`
	Country       string `json:"country"`
	ResearchAreas string `json:"research_areas"`
	URL           string `json:"url"`
	Email         string `json:"email,omitempty"`
}

// RunParams captures everything a caller can vary per pipeline run.
type RunParams struct {
	User         string       `json:"user"`
	Keywords     string       `json:"keywords"`
	Recipient    string       `json:"recipient"`
	PositionType PositionType `json:"position_type"`
	SearchTypes  []SearchType `json:"search_types"`
}

// HasSearch reports whether the given search type is enabled. An empty
// SearchTypes slice means the default: open-position search only.
func (p RunParams) HasSearch(st SearchType) bool {
	if len(p.SearchTypes) == 0 {
		return st == SearchOpen
	}
	for _, s := range p.SearchTypes {
		if s == st {
			return true
		}
	}
	return false
}

// Report is the material rendered into the digest email.
type Report struct {
	Date       string
	NewJobs    []Posting
	OldJobs    []JobRecord
	Inquiries  []InquiryOpportunity
	Professors []ProfessorProfile
}
