// Package scrape collects candidate postings from configured portals.
package scrape

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/scoutlab/scholarhunt/internal/config"
	"github.com/scoutlab/scholarhunt/internal/hunter"
)

// Portal is a selector-driven hunter.Source built from config.
type Portal struct {
	cfg       config.SourceConfig
	userAgent string
	timeout   time.Duration
	clock     hunter.Clock
	logger    *zap.Logger
}

// NewPortal builds a Portal source.
func NewPortal(cfg config.SourceConfig, userAgent string, timeout time.Duration, clock hunter.Clock, logger *zap.Logger) *Portal {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Portal{
		cfg:       cfg,
		userAgent: userAgent,
		timeout:   timeout,
		clock:     clock,
		logger:    logger,
	}
}

// Name identifies the portal in logs and posting records.
func (p *Portal) Name() string {
	return p.cfg.Name
}

// Fetch scrapes the portal listing page and returns one posting per
// matched item. Items without a title or link are skipped.
func (p *Portal) Fetch(ctx context.Context) ([]hunter.Posting, error) {
	collector := colly.NewCollector(colly.Async(false))
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(p.timeout)
	if p.userAgent != "" {
		collector.UserAgent = p.userAgent
	}

	found := p.clock.Now().Format(hunter.DateFormat)
	var postings []hunter.Posting
	collector.OnHTML(p.cfg.ItemSelector, func(e *colly.HTMLElement) {
		title := strings.TrimSpace(e.ChildText(p.cfg.TitleSelector))
		link := e.ChildAttr(p.cfg.LinkSelector, "href")
		if title == "" || link == "" {
			return
		}
		postings = append(postings, hunter.Posting{
			Title:      title,
			University: strings.TrimSpace(e.ChildText(p.cfg.InstitutionSelector)),
			Country:    p.cfg.Country,
			URL:        e.Request.AbsoluteURL(link),
			FoundDate:  found,
			Source:     p.cfg.Name,
		})
	})

	var fetchErr error
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(p.cfg.URL)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("scrape %s canceled: %w", p.cfg.Name, ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return nil, fmt.Errorf("scrape %s: %w", p.cfg.Name, fetchErr)
		}
		if err != nil {
			return nil, fmt.Errorf("scrape %s: %w", p.cfg.Name, err)
		}
	}

	p.logger.Info("portal scraped",
		zap.String("source", p.cfg.Name),
		zap.Int("postings", len(postings)))
	return postings, nil
}

// FromConfig builds one Portal per configured source.
func FromConfig(sources []config.SourceConfig, userAgent string, timeout time.Duration, clock hunter.Clock, logger *zap.Logger) []hunter.Source {
	out := make([]hunter.Source, 0, len(sources))
	for _, sc := range sources {
		out = append(out, NewPortal(sc, userAgent, timeout, clock, logger))
	}
	return out
}
