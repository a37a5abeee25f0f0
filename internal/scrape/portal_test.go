package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/scoutlab/scholarhunt/internal/config"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

const listingHTML = `<html><body>
<div class="job">
  <h3 class="title">PhD Position in 6G Networks</h3>
  <span class="org">Aalto University</span>
  <a class="more" href="/jobs/101">Details</a>
</div>
<div class="job">
  <h3 class="title">Postdoctoral Fellow in Robotics</h3>
  <span class="org">TU Delft</span>
  <a class="more" href="https://other.example.edu/jobs/202">Details</a>
</div>
<div class="job">
  <h3 class="title"></h3>
  <a class="more" href="/jobs/303">Details</a>
</div>
</body></html>`

func testSource(url string) config.SourceConfig {
	return config.SourceConfig{
		Name:                "test-portal",
		URL:                 url,
		ItemSelector:        "div.job",
		TitleSelector:       "h3.title",
		LinkSelector:        "a.more",
		InstitutionSelector: "span.org",
		Country:             "Finland",
	}
}

func TestFetchParsesListing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if _, err := w.Write([]byte(listingHTML)); err != nil {
			t.Errorf("write listing: %v", err)
		}
	}))
	defer srv.Close()

	clock := fixedClock{t: time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)}
	p := NewPortal(testSource(srv.URL), "test-agent", time.Second, clock, zap.NewNop())

	postings, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(postings) != 2 {
		t.Fatalf("expected 2 postings (titleless item skipped), got %d", len(postings))
	}

	first := postings[0]
	if first.Title != "PhD Position in 6G Networks" {
		t.Fatalf("unexpected title %q", first.Title)
	}
	if first.University != "Aalto University" {
		t.Fatalf("unexpected university %q", first.University)
	}
	if first.URL != srv.URL+"/jobs/101" {
		t.Fatalf("expected relative link resolved, got %q", first.URL)
	}
	if first.Country != "Finland" || first.Source != "test-portal" {
		t.Fatalf("unexpected metadata: %+v", first)
	}
	if first.FoundDate != "2026-08-31" {
		t.Fatalf("unexpected found date %q", first.FoundDate)
	}
	if postings[1].URL != "https://other.example.edu/jobs/202" {
		t.Fatalf("expected absolute link kept, got %q", postings[1].URL)
	}
}

func TestFetchServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	clock := fixedClock{t: time.Now()}
	p := NewPortal(testSource(srv.URL), "", time.Second, clock, zap.NewNop())
	if _, err := p.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for 503 listing page")
	}
}

func TestFromConfigBuildsAllSources(t *testing.T) {
	t.Parallel()

	sources := FromConfig([]config.SourceConfig{
		testSource("https://a.example.edu"),
		{Name: "second", URL: "https://b.example.edu"},
	}, "", time.Second, fixedClock{t: time.Now()}, zap.NewNop())

	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	if sources[0].Name() != "test-portal" || sources[1].Name() != "second" {
		t.Fatalf("unexpected source names: %s, %s", sources[0].Name(), sources[1].Name())
	}
}
