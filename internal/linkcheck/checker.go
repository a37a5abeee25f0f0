// Package linkcheck validates posting URLs before they reach a digest.
package linkcheck

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scoutlab/scholarhunt/internal/hunter"
	"github.com/scoutlab/scholarhunt/internal/ratelimit"
)

// Config controls validation behavior.
type Config struct {
	Timeout     time.Duration
	Concurrency int
	UserAgent   string

	// RPS and Burst pace HEAD requests per host. Zero RPS disables pacing.
	RPS   float64
	Burst int
}

// Checker implements hunter.LinkChecker with HEAD requests.
type Checker struct {
	cfg     Config
	client  *http.Client
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// New builds a Checker.
func New(cfg Config, logger *zap.Logger) *Checker {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	return &Checker{
		cfg:     cfg,
		limiter: ratelimit.New(ratelimit.Config{RPS: cfg.RPS, Burst: cfg.Burst}),
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

// wait paces the request unless pacing is disabled.
func (c *Checker) wait(ctx context.Context, url string) bool {
	if err := c.limiter.Wait(ctx, url); err != nil {
		c.logger.Debug("rate limit wait aborted", zap.String("url", url), zap.Error(err))
		return false
	}
	return true
}

// Alive reports whether a URL answers a HEAD request with an acceptable
// status. Redirects and 403 count as alive.
func (c *Checker) Alive(ctx context.Context, url string) bool {
	if !c.wait(ctx, url) {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("link check failed", zap.String("url", url), zap.Error(err))
		return false
	}
	defer resp.Body.Close() //nolint:errcheck
	switch resp.StatusCode {
	case http.StatusOK, http.StatusMovedPermanently, http.StatusFound, http.StatusForbidden:
		return true
	default:
		return false
	}
}

// FilterAlive checks postings concurrently and returns the reachable
// ones in their original order.
func (c *Checker) FilterAlive(ctx context.Context, postings []hunter.Posting) []hunter.Posting {
	if len(postings) == 0 {
		return nil
	}

	alive := make([]bool, len(postings))
	sem := make(chan struct{}, c.cfg.Concurrency)
	var wg sync.WaitGroup
	for i := range postings {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			alive[idx] = c.Alive(ctx, postings[idx].URL)
		}(i)
	}
	wg.Wait()

	kept := make([]hunter.Posting, 0, len(postings))
	for i, p := range postings {
		if alive[i] {
			kept = append(kept, p)
		} else {
			c.logger.Info("dropping dead link", zap.String("url", p.URL), zap.String("title", p.Title))
		}
	}
	return kept
}
