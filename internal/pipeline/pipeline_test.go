package pipeline

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/scoutlab/scholarhunt/internal/history"
	"github.com/scoutlab/scholarhunt/internal/hunter"
	"github.com/scoutlab/scholarhunt/internal/inquiry"
	"github.com/scoutlab/scholarhunt/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeSource struct {
	name     string
	postings []hunter.Posting
	err      error
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Fetch(context.Context) ([]hunter.Posting, error) {
	return s.postings, s.err
}

type fakeProber struct {
	results map[string]hunter.ProbeResult
}

func (p *fakeProber) Probe(_ context.Context, url string) (hunter.ProbeResult, error) {
	res, ok := p.results[url]
	if !ok {
		return hunter.ProbeResult{}, errors.New("probe timeout")
	}
	return res, nil
}

type passLinks struct {
	dead map[string]bool
}

func (l *passLinks) FilterAlive(_ context.Context, postings []hunter.Posting) []hunter.Posting {
	var kept []hunter.Posting
	for _, p := range postings {
		if !l.dead[p.URL] {
			kept = append(kept, p)
		}
	}
	return kept
}

type fakeOracle struct {
	drop        map[string]bool
	err         error
	scores      map[string]int
	scoreErr    error
	shortScores bool
}

func (o *fakeOracle) Verify(_ context.Context, jobs []hunter.Posting, _ string) ([]hunter.Posting, error) {
	if o.err != nil {
		return nil, o.err
	}
	var kept []hunter.Posting
	for _, j := range jobs {
		if !o.drop[j.URL] {
			kept = append(kept, j)
		}
	}
	return kept, nil
}

func (o *fakeOracle) ScoreHistory(_ context.Context, jobs []hunter.JobRecord, _ string) ([]int, error) {
	if o.scoreErr != nil {
		return nil, o.scoreErr
	}
	out := make([]int, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, o.scores[j.URL])
	}
	if o.shortScores && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

type fakeMailer struct {
	reports []hunter.Report
	err     error
}

func (m *fakeMailer) SendDigest(_ context.Context, _ string, report hunter.Report) error {
	m.reports = append(m.reports, report)
	return m.err
}

func (m *fakeMailer) SendNote(context.Context, string, string, string) error {
	return nil
}

func newPipeline(t *testing.T, sources []hunter.Source, prober *fakeProber) (*Pipeline, *fakeMailer, *history.Store) {
	t.Helper()
	clock := fixedClock{t: time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)}
	store := history.Open(filepath.Join(t.TempDir(), "job_history.json"), clock, zap.NewNop())
	mailer := &fakeMailer{}
	p := &Pipeline{
		Sources:  sources,
		History:  store,
		Prober:   prober,
		Links:    &passLinks{},
		Mailer:   mailer,
		Detector: inquiry.New(),
		Clock:    clock,
		Logger:   zap.NewNop(),
	}
	return p, mailer, store
}

func openParams() hunter.RunParams {
	return hunter.RunParams{
		User:         "alice",
		Recipient:    "alice@example.com",
		PositionType: hunter.PositionPhD,
	}
}

func TestRunOpenSearchFiltersAndRecords(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "portal", postings: []hunter.Posting{
		{Title: "PhD Position in 6G Networks", URL: "https://example.edu/1"},
		{Title: "Software Engineer", URL: "https://example.edu/2"},
		{Title: "PhD Position in Medieval History", URL: "https://example.edu/3"},
		{Title: "Postdoctoral Fellow in Massive MIMO", URL: "https://example.edu/4"},
	}}
	prober := &fakeProber{results: map[string]hunter.ProbeResult{
		"https://example.edu/1": {StatusCode: http.StatusOK, BodyText: "apply now"},
	}}

	p, mailer, store := newPipeline(t, []hunter.Source{src}, prober)
	report, err := p.Run(context.Background(), openParams(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Only the PhD + keyword-relevant posting survives: the engineer role
	// fails the position filter, history fails keywords, the postdoc
	// fails the phd position filter.
	if len(report.NewJobs) != 1 || report.NewJobs[0].URL != "https://example.edu/1" {
		t.Fatalf("unexpected new jobs: %+v", report.NewJobs)
	}
	if len(report.OldJobs) != 0 {
		t.Fatalf("expected no old jobs on first run, got %+v", report.OldJobs)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 history record, got %d", store.Len())
	}
	if len(mailer.reports) != 1 {
		t.Fatalf("expected digest sent once, got %d", len(mailer.reports))
	}
}

func TestRunSplitsNewFromOld(t *testing.T) {
	t.Parallel()

	oldURL := "https://example.edu/old"
	newURL := "https://example.edu/new"
	src := &fakeSource{name: "portal", postings: []hunter.Posting{
		{Title: "PhD Position in 6G Networks", URL: oldURL},
		{Title: "PhD Position in Network Slicing", URL: newURL},
	}}
	prober := &fakeProber{results: map[string]hunter.ProbeResult{
		oldURL: {StatusCode: http.StatusOK, BodyText: "apply now"},
		newURL: {StatusCode: http.StatusOK, BodyText: "apply now"},
	}}

	p, _, store := newPipeline(t, []hunter.Source{src}, prober)
	if _, err := store.Add(hunter.Posting{Title: "PhD Position in 6G Networks", URL: oldURL}); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	report, err := p.Run(context.Background(), openParams(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.NewJobs) != 1 || report.NewJobs[0].URL != newURL {
		t.Fatalf("unexpected new jobs: %+v", report.NewJobs)
	}
	if len(report.OldJobs) != 1 || report.OldJobs[0].URL != oldURL {
		t.Fatalf("unexpected old jobs: %+v", report.OldJobs)
	}
}

func TestRunReconcileExpiresDeadPostings(t *testing.T) {
	t.Parallel()

	goneURL := "https://example.edu/gone"
	src := &fakeSource{name: "portal", postings: nil}
	prober := &fakeProber{results: map[string]hunter.ProbeResult{
		goneURL: {StatusCode: http.StatusNotFound},
	}}

	p, _, store := newPipeline(t, []hunter.Source{src}, prober)
	if _, err := store.Add(hunter.Posting{Title: "PhD Position in 6G", URL: goneURL}); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	report, err := p.Run(context.Background(), openParams(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.OldJobs) != 0 {
		t.Fatalf("expected dead posting excluded, got %+v", report.OldJobs)
	}
	for _, rec := range store.All() {
		if rec.URL == goneURL && rec.Status != hunter.StatusExpired {
			t.Fatalf("expected %s expired, got %s", goneURL, rec.Status)
		}
	}
}

func TestRunSourceFailureDoesNotAbort(t *testing.T) {
	t.Parallel()

	broken := &fakeSource{name: "broken", err: errors.New("portal down")}
	healthy := &fakeSource{name: "healthy", postings: []hunter.Posting{
		{Title: "PhD Position in 6G Networks", URL: "https://example.edu/1"},
	}}
	prober := &fakeProber{results: map[string]hunter.ProbeResult{
		"https://example.edu/1": {StatusCode: http.StatusOK, BodyText: "open"},
	}}

	var logLines []string
	p, _, _ := newPipeline(t, []hunter.Source{broken, healthy}, prober)
	report, err := p.Run(context.Background(), openParams(), func(line string) {
		logLines = append(logLines, line)
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.NewJobs) != 1 {
		t.Fatalf("expected healthy source postings kept, got %+v", report.NewJobs)
	}
	joined := strings.Join(logLines, "")
	if !strings.Contains(joined, "Source broken failed") {
		t.Fatalf("expected failure noted in progress log, got %q", joined)
	}
}

func TestRunOracleFiltersCandidates(t *testing.T) {
	t.Parallel()

	keepURL := "https://example.edu/keep"
	dropURL := "https://example.edu/drop"
	src := &fakeSource{name: "portal", postings: []hunter.Posting{
		{Title: "PhD Position in 6G Networks", URL: keepURL},
		{Title: "PhD Position in Open RAN", URL: dropURL},
	}}
	prober := &fakeProber{results: map[string]hunter.ProbeResult{
		keepURL: {StatusCode: http.StatusOK, BodyText: "open"},
	}}

	p, _, _ := newPipeline(t, []hunter.Source{src}, prober)
	p.Oracle = &fakeOracle{drop: map[string]bool{dropURL: true}}

	report, err := p.Run(context.Background(), openParams(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.NewJobs) != 1 || report.NewJobs[0].URL != keepURL {
		t.Fatalf("expected oracle to drop one posting, got %+v", report.NewJobs)
	}
}

func TestRunOracleFailureKeepsCandidates(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "portal", postings: []hunter.Posting{
		{Title: "PhD Position in 6G Networks", URL: "https://example.edu/1"},
	}}
	prober := &fakeProber{results: map[string]hunter.ProbeResult{
		"https://example.edu/1": {StatusCode: http.StatusOK, BodyText: "open"},
	}}

	p, _, _ := newPipeline(t, []hunter.Source{src}, prober)
	p.Oracle = &fakeOracle{err: errors.New("quota exceeded")}

	report, err := p.Run(context.Background(), openParams(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.NewJobs) != 1 {
		t.Fatalf("expected candidates kept on oracle failure, got %+v", report.NewJobs)
	}
}

func seedOldJobs(t *testing.T, store *history.Store, urls ...string) {
	t.Helper()
	for _, url := range urls {
		if _, err := store.Add(hunter.Posting{Title: "PhD Position in 6G", URL: url}); err != nil {
			t.Fatalf("seed history %s: %v", url, err)
		}
	}
}

func TestRunRescoreOrdersOldJobsByRelevance(t *testing.T) {
	t.Parallel()

	lowURL := "https://example.edu/a"
	highURL := "https://example.edu/b"
	src := &fakeSource{name: "portal", postings: nil}
	prober := &fakeProber{results: map[string]hunter.ProbeResult{
		lowURL:  {StatusCode: http.StatusOK, BodyText: "apply now"},
		highURL: {StatusCode: http.StatusOK, BodyText: "apply now"},
	}}

	p, _, store := newPipeline(t, []hunter.Source{src}, prober)
	seedOldJobs(t, store, lowURL, highURL)
	p.Oracle = &fakeOracle{scores: map[string]int{lowURL: 2, highURL: 9}}

	report, err := p.Run(context.Background(), openParams(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.OldJobs) != 2 {
		t.Fatalf("expected both records kept, got %+v", report.OldJobs)
	}
	if report.OldJobs[0].URL != highURL || report.OldJobs[1].URL != lowURL {
		t.Fatalf("expected most relevant record first, got %+v", report.OldJobs)
	}
}

func TestRunRescoreFailureKeepsAllOldJobs(t *testing.T) {
	t.Parallel()

	firstURL := "https://example.edu/a"
	secondURL := "https://example.edu/b"
	src := &fakeSource{name: "portal", postings: nil}
	prober := &fakeProber{results: map[string]hunter.ProbeResult{
		firstURL:  {StatusCode: http.StatusOK, BodyText: "apply now"},
		secondURL: {StatusCode: http.StatusOK, BodyText: "apply now"},
	}}

	p, _, store := newPipeline(t, []hunter.Source{src}, prober)
	seedOldJobs(t, store, firstURL, secondURL)
	p.Oracle = &fakeOracle{scoreErr: errors.New("quota exceeded")}

	report, err := p.Run(context.Background(), openParams(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.OldJobs) != 2 {
		t.Fatalf("expected scoring failure to keep every record, got %+v", report.OldJobs)
	}
	if report.OldJobs[0].URL != firstURL || report.OldJobs[1].URL != secondURL {
		t.Fatalf("expected original order preserved, got %+v", report.OldJobs)
	}
}

func TestRunRescoreLengthMismatchKeepsOrder(t *testing.T) {
	t.Parallel()

	firstURL := "https://example.edu/a"
	secondURL := "https://example.edu/b"
	src := &fakeSource{name: "portal", postings: nil}
	prober := &fakeProber{results: map[string]hunter.ProbeResult{
		firstURL:  {StatusCode: http.StatusOK, BodyText: "apply now"},
		secondURL: {StatusCode: http.StatusOK, BodyText: "apply now"},
	}}

	p, _, store := newPipeline(t, []hunter.Source{src}, prober)
	seedOldJobs(t, store, firstURL, secondURL)
	p.Oracle = &fakeOracle{scores: map[string]int{firstURL: 1, secondURL: 8}, shortScores: true}

	report, err := p.Run(context.Background(), openParams(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.OldJobs) != 2 {
		t.Fatalf("expected mismatched answer to keep every record, got %+v", report.OldJobs)
	}
	if report.OldJobs[0].URL != firstURL || report.OldJobs[1].URL != secondURL {
		t.Fatalf("expected original order preserved, got %+v", report.OldJobs)
	}
}

func TestRunCustomKeywordsSupersedeDefaults(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "portal", postings: []hunter.Posting{
		{Title: "PhD Position in Marine Biology", URL: "https://example.edu/1"},
		{Title: "PhD Position in 6G Networks", URL: "https://example.edu/2"},
	}}
	prober := &fakeProber{results: map[string]hunter.ProbeResult{
		"https://example.edu/1": {StatusCode: http.StatusOK, BodyText: "open"},
	}}

	p, _, _ := newPipeline(t, []hunter.Source{src}, prober)
	params := openParams()
	params.Keywords = "marine biology"

	report, err := p.Run(context.Background(), params, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.NewJobs) != 1 || report.NewJobs[0].URL != "https://example.edu/1" {
		t.Fatalf("expected only custom keyword match, got %+v", report.NewJobs)
	}
}

func TestRunInquirySearch(t *testing.T) {
	t.Parallel()

	labURL := "https://example.edu/lab/smith"
	quietURL := "https://example.edu/lab/quiet"
	newsURL := "https://example.edu/news/article"
	faculty := &fakeSource{name: "faculty", postings: []hunter.Posting{
		{Title: "Prof. Smith Research Group", University: "Aalto", URL: labURL},
		{Title: "Prof. Quiet Lab", University: "Aalto", URL: quietURL},
		{Title: "Campus news", URL: newsURL},
	}}
	prober := &fakeProber{results: map[string]hunter.ProbeResult{
		labURL:   {StatusCode: http.StatusOK, BodyText: "We are always looking for motivated PhD students. Contact smith@example.edu"},
		quietURL: {StatusCode: http.StatusOK, BodyText: "Our group studies networks."},
		newsURL:  {StatusCode: http.StatusOK, BodyText: "We are always looking for motivated PhD students."},
	}}

	p, _, _ := newPipeline(t, nil, prober)
	p.Faculty = []hunter.Source{faculty}
	params := openParams()
	params.SearchTypes = []hunter.SearchType{hunter.SearchInquiry}

	report, err := p.Run(context.Background(), params, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.NewJobs) != 0 {
		t.Fatalf("open search should be skipped, got %+v", report.NewJobs)
	}
	if len(report.Inquiries) != 1 {
		t.Fatalf("expected 1 inquiry opportunity, got %+v", report.Inquiries)
	}
	opp := report.Inquiries[0]
	if opp.Professor != "Prof. Smith Research Group" || opp.Email != "smith@example.edu" {
		t.Fatalf("unexpected opportunity: %+v", opp)
	}
	if opp.SignalStrength == 0 || opp.ContextSnippet == "" {
		t.Fatalf("expected signal details populated: %+v", opp)
	}
}

func TestRunProfessorSearch(t *testing.T) {
	t.Parallel()

	profURL := "https://example.edu/people/doe"
	otherURL := "https://example.edu/people/roe"
	faculty := &fakeSource{name: "faculty", postings: []hunter.Posting{
		{Title: "Prof. Doe", University: "KTH", Country: "Sweden", URL: profURL},
		{Title: "Prof. Roe", University: "KTH", URL: otherURL},
	}}
	prober := &fakeProber{results: map[string]hunter.ProbeResult{
		profURL:  {StatusCode: http.StatusOK, BodyText: "Research on Massive MIMO and Beamforming. doe@example.edu"},
		otherURL: {StatusCode: http.StatusOK, BodyText: "Research on medieval literature."},
	}}

	p, _, _ := newPipeline(t, nil, prober)
	p.Faculty = []hunter.Source{faculty}
	params := openParams()
	params.SearchTypes = []hunter.SearchType{hunter.SearchProfessors}

	report, err := p.Run(context.Background(), params, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.Professors) != 1 {
		t.Fatalf("expected 1 professor profile, got %+v", report.Professors)
	}
	prof := report.Professors[0]
	if prof.Name != "Prof. Doe" || prof.Email != "doe@example.edu" {
		t.Fatalf("unexpected profile: %+v", prof)
	}
	if !strings.Contains(prof.ResearchAreas, "Physical Layer") {
		t.Fatalf("expected matched category in research areas, got %q", prof.ResearchAreas)
	}
}

func TestRunDigestFailureReturnsReport(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "portal", postings: []hunter.Posting{
		{Title: "PhD Position in 6G Networks", URL: "https://example.edu/1"},
	}}
	prober := &fakeProber{results: map[string]hunter.ProbeResult{
		"https://example.edu/1": {StatusCode: http.StatusOK, BodyText: "open"},
	}}

	p, mailer, _ := newPipeline(t, []hunter.Source{src}, prober)
	mailer.err = errors.New("smtp refused")

	report, err := p.Run(context.Background(), openParams(), nil)
	if err == nil {
		t.Fatal("expected error when digest delivery fails")
	}
	if len(report.NewJobs) != 1 {
		t.Fatalf("expected report populated despite delivery failure, got %+v", report)
	}
}
