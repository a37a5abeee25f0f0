package hunter

import (
	"context"
	"time"
)

// ProbeResult is the successful outcome of fetching a page for liveness.
type ProbeResult struct {
	StatusCode int
	BodyText   string
}

// Prober fetches a URL and returns its HTTP status plus visible text.
// A returned error means the probe itself failed (timeout, DNS, TLS) and
// says nothing about whether the posting is dead.
type Prober interface {
	Probe(ctx context.Context, url string) (ProbeResult, error)
}

// Source yields raw candidate postings from one portal or site.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Posting, error)
}

// RelevanceOracle filters or scores candidates using an external judge.
// Implementations are untrusted: callers must tolerate any error or
// malformed result by keeping the full candidate set.
type RelevanceOracle interface {
	Verify(ctx context.Context, jobs []Posting, keywords string) ([]Posting, error)
	ScoreHistory(ctx context.Context, jobs []JobRecord, keywords string) ([]int, error)
}

// LinkChecker reports whether a URL is reachable at all. Used as a cheap
// pre-filter before the relevance oracle.
type LinkChecker interface {
	Alive(ctx context.Context, url string) bool
}

// Mailer delivers the digest report and short status notes.
type Mailer interface {
	SendDigest(ctx context.Context, recipient string, report Report) error
	SendNote(ctx context.Context, recipient, subject, body string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job ID tokens.
type IDGenerator interface {
	NewID() (string, error)
}
