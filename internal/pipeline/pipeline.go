// Package pipeline drives a full discovery run end to end.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/scoutlab/scholarhunt/internal/classify"
	"github.com/scoutlab/scholarhunt/internal/history"
	"github.com/scoutlab/scholarhunt/internal/hunter"
	"github.com/scoutlab/scholarhunt/internal/inquiry"
	"github.com/scoutlab/scholarhunt/internal/metrics"
)

// LinkFilter drops postings whose URLs do not answer.
type LinkFilter interface {
	FilterAlive(ctx context.Context, postings []hunter.Posting) []hunter.Posting
}

// Pipeline wires the discovery stages together. Oracle may be nil when
// verification is disabled; Faculty sources are only consulted for the
// inquiry and professors search types.
type Pipeline struct {
	Sources  []hunter.Source
	Faculty  []hunter.Source
	History  *history.Store
	Prober   hunter.Prober
	Links    LinkFilter
	Oracle   hunter.RelevanceOracle
	Mailer   hunter.Mailer
	Detector *inquiry.Detector
	Clock    hunter.Clock
	Logger   *zap.Logger

	// Categories overrides the default keyword catalog; per-run custom
	// keywords still supersede it.
	Categories map[string][]string
}

// progressFunc receives human readable stage updates for the job log.
type progressFunc func(line string)

// Run executes one full discovery pass and mails the digest. The report
// is returned even when delivery fails.
func (p *Pipeline) Run(ctx context.Context, params hunter.RunParams, progress progressFunc) (hunter.Report, error) {
	if progress == nil {
		progress = func(string) {}
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	analyzer, err := p.buildAnalyzer(params)
	if err != nil {
		return hunter.Report{}, err
	}

	report := hunter.Report{Date: p.Clock.Now().Format(hunter.DateFormat)}

	if params.HasSearch(hunter.SearchOpen) {
		newJobs, oldJobs, err := p.openSearch(ctx, params, analyzer, logger, progress)
		if err != nil {
			return report, err
		}
		report.NewJobs = newJobs
		report.OldJobs = oldJobs
	}

	if params.HasSearch(hunter.SearchInquiry) {
		report.Inquiries = p.inquirySearch(ctx, params, logger, progress)
	}

	if params.HasSearch(hunter.SearchProfessors) {
		report.Professors = p.professorSearch(ctx, analyzer, logger, progress)
	}

	progress(fmt.Sprintf("Run complete: %d new, %d still open, %d inquiries, %d faculty matches\n",
		len(report.NewJobs), len(report.OldJobs), len(report.Inquiries), len(report.Professors)))

	if err := p.Mailer.SendDigest(ctx, params.Recipient, report); err != nil {
		return report, fmt.Errorf("send digest: %w", err)
	}
	return report, nil
}

func (p *Pipeline) buildAnalyzer(params hunter.RunParams) (*classify.Analyzer, error) {
	if strings.TrimSpace(params.Keywords) != "" {
		a, err := classify.NewCustomAnalyzer(params.Keywords)
		if err != nil {
			return nil, fmt.Errorf("build keyword analyzer: %w", err)
		}
		return a, nil
	}
	a, err := classify.NewAnalyzer(p.Categories)
	if err != nil {
		return nil, fmt.Errorf("build keyword analyzer: %w", err)
	}
	return a, nil
}

func (p *Pipeline) openSearch(
	ctx context.Context,
	params hunter.RunParams,
	analyzer *classify.Analyzer,
	logger *zap.Logger,
	progress progressFunc,
) ([]hunter.Posting, []hunter.JobRecord, error) {
	var candidates []hunter.Posting
	for _, src := range p.Sources {
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("open search canceled: %w", err)
		}
		postings, err := src.Fetch(ctx)
		if err != nil {
			// One broken portal must not sink the run.
			logger.Warn("source fetch failed", zap.String("source", src.Name()), zap.Error(err))
			progress(fmt.Sprintf("Source %s failed: %v\n", src.Name(), err))
			continue
		}
		metrics.ObservePostings(src.Name(), "scraped", len(postings))
		candidates = append(candidates, postings...)
	}
	progress(fmt.Sprintf("Scraped %d candidate postings from %d sources\n", len(candidates), len(p.Sources)))

	matched := candidates[:0:0]
	for _, c := range candidates {
		if !classify.Matches(c.Title, string(params.PositionType)) {
			continue
		}
		if !analyzer.IsRelevant(c.Title) {
			continue
		}
		matched = append(matched, c)
	}
	metrics.ObservePostings("all", "matched", len(matched))
	progress(fmt.Sprintf("%d postings match position type and keywords\n", len(matched)))

	alive := p.Links.FilterAlive(ctx, matched)
	metrics.ObservePostings("all", "reachable", len(alive))

	verified := alive
	if p.Oracle != nil {
		var err error
		verified, err = p.Oracle.Verify(ctx, alive, params.Keywords)
		if err != nil {
			logger.Warn("oracle verification failed, keeping candidates", zap.Error(err))
			verified = alive
		}
		progress(fmt.Sprintf("%d postings passed verification\n", len(verified)))
	}

	var newJobs []hunter.Posting
	for _, job := range verified {
		added, err := p.History.Add(job)
		if err != nil {
			return nil, nil, fmt.Errorf("record posting %s: %w", job.URL, err)
		}
		if added {
			newJobs = append(newJobs, job)
		}
	}
	metrics.ObservePostings("all", "new", len(newJobs))
	progress(fmt.Sprintf("%d postings are new\n", len(newJobs)))

	active := p.History.Reconcile(ctx, p.Prober, logger)
	progress(fmt.Sprintf("%d stored postings are still live\n", len(active)))

	newURLs := make(map[string]bool, len(newJobs))
	for _, job := range newJobs {
		newURLs[job.URL] = true
	}
	var oldJobs []hunter.JobRecord
	for _, rec := range active {
		if !newURLs[rec.URL] {
			oldJobs = append(oldJobs, rec)
		}
	}
	if p.Oracle != nil && len(oldJobs) > 0 {
		oldJobs = p.rescoreHistory(ctx, oldJobs, params.Keywords, logger, progress)
	}
	return newJobs, oldJobs, nil
}

// rescoreHistory asks the oracle for a 0-10 relevance score per still-open
// record and orders the digest most relevant first. A failed or
// mismatched-length answer keeps every record in its original order.
func (p *Pipeline) rescoreHistory(
	ctx context.Context,
	records []hunter.JobRecord,
	keywords string,
	logger *zap.Logger,
	progress progressFunc,
) []hunter.JobRecord {
	scores, err := p.Oracle.ScoreHistory(ctx, records, keywords)
	if err != nil {
		logger.Warn("history re-scoring failed, keeping original order", zap.Error(err))
		return records
	}
	if len(scores) != len(records) {
		logger.Warn("history re-scoring returned wrong length, keeping original order",
			zap.Int("scores", len(scores)), zap.Int("records", len(records)))
		return records
	}
	idx := make([]int, len(records))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})
	ordered := make([]hunter.JobRecord, len(records))
	for i, j := range idx {
		ordered[i] = records[j]
	}
	progress(fmt.Sprintf("Re-scored %d still open postings by relevance\n", len(records)))
	return ordered
}

func (p *Pipeline) inquirySearch(
	ctx context.Context,
	params hunter.RunParams,
	logger *zap.Logger,
	progress progressFunc,
) []hunter.InquiryOpportunity {
	var found []hunter.InquiryOpportunity
	for _, src := range p.Faculty {
		pages, err := src.Fetch(ctx)
		if err != nil {
			logger.Warn("faculty fetch failed", zap.String("source", src.Name()), zap.Error(err))
			continue
		}
		for _, page := range pages {
			if err := ctx.Err(); err != nil {
				return found
			}
			if !p.Detector.RelevantPageType(page.URL, page.Title) {
				continue
			}
			res, err := p.Prober.Probe(ctx, page.URL)
			if err != nil {
				logger.Debug("inquiry probe failed", zap.String("url", page.URL), zap.Error(err))
				continue
			}
			scan := p.Detector.Scan(res.BodyText, string(params.PositionType))
			if !scan.HasSignal {
				continue
			}
			contact := p.Detector.ExtractContact(res.BodyText)
			snippet := ""
			if len(scan.ContextSnippets) > 0 {
				snippet = scan.ContextSnippets[0]
			}
			found = append(found, hunter.InquiryOpportunity{
				Professor:       page.Title,
				University:      page.University,
				Country:         page.Country,
				URL:             page.URL,
				Email:           contact.Email,
				SignalStrength:  scan.SignalStrength,
				MatchedPatterns: scan.MatchedPatterns,
				ContextSnippet:  snippet,
				Source:          src.Name(),
			})
		}
	}
	progress(fmt.Sprintf("Found %d inquiry opportunities\n", len(found)))
	return found
}

func (p *Pipeline) professorSearch(
	ctx context.Context,
	analyzer *classify.Analyzer,
	logger *zap.Logger,
	progress progressFunc,
) []hunter.ProfessorProfile {
	var found []hunter.ProfessorProfile
	for _, src := range p.Faculty {
		pages, err := src.Fetch(ctx)
		if err != nil {
			logger.Warn("faculty fetch failed", zap.String("source", src.Name()), zap.Error(err))
			continue
		}
		for _, page := range pages {
			if err := ctx.Err(); err != nil {
				return found
			}
			res, err := p.Prober.Probe(ctx, page.URL)
			if err != nil {
				logger.Debug("faculty probe failed", zap.String("url", page.URL), zap.Error(err))
				continue
			}
			areas := analyzer.Categories(res.BodyText)
			if len(areas) == 0 {
				continue
			}
			contact := p.Detector.ExtractContact(res.BodyText)
			found = append(found, hunter.ProfessorProfile{
				Name:          page.Title,
				University:    page.University,
				Country:       page.Country,
				ResearchAreas: strings.Join(areas, ", "),
				URL:           page.URL,
				Email:         contact.Email,
			})
		}
	}
	progress(fmt.Sprintf("Found %d matching faculty profiles\n", len(found)))
	return found
}
