// Package probe implements posting liveness checks using gocolly.
package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/scoutlab/scholarhunt/internal/hunter"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
}

const defaultMaxBodyBytes = 1 << 20

// Prober implements hunter.Prober using the Colly collector.
type Prober struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Prober.
func New(cfg Config) *Prober {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &Prober{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Probe issues a single GET and reports the status code and body text.
// A reachable URL with a failing status is a result, not an error; only
// transport level failures surface as errors.
func (p *Prober) Probe(ctx context.Context, url string) (hunter.ProbeResult, error) {
	collector := p.baseCollector.Clone()
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}
	timeout := p.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var (
		result   hunter.ProbeResult
		probeErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		result = hunter.ProbeResult{
			StatusCode: r.StatusCode,
			BodyText:   p.truncate(r.Body),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			// HTTP-level failure: keep the status so callers can
			// distinguish gone postings from network trouble.
			result = hunter.ProbeResult{
				StatusCode: r.StatusCode,
				BodyText:   p.truncate(r.Body),
			}
			return
		}
		probeErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return hunter.ProbeResult{}, fmt.Errorf("probe canceled: %w", ctx.Err())
	case err := <-done:
		if probeErr != nil {
			return hunter.ProbeResult{}, fmt.Errorf("probe %s: %w", url, probeErr)
		}
		if result.StatusCode == 0 {
			if err != nil {
				return hunter.ProbeResult{}, fmt.Errorf("probe %s: %w", url, err)
			}
			return hunter.ProbeResult{}, fmt.Errorf("probe %s: no response", url)
		}
		return result, nil
	}
}

func (p *Prober) truncate(body []byte) string {
	limit := p.cfg.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	if len(body) > limit {
		body = body[:limit]
	}
	return string(body)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
