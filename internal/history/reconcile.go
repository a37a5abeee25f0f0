package history

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/scoutlab/scholarhunt/internal/hunter"
	"github.com/scoutlab/scholarhunt/internal/metrics"
)

// Phrases that mark a still-reachable page as a dead posting. Scanned
// case-folded against the probed body text.
var expiryPhrases = []string{
	"position has been filled",
	"no longer available",
	"expired",
	"closed",
	"nicht mehr verfügbar",
	"stelle besetzt",
	"404",
	"not found",
}

func bodyLooksExpired(body string) bool {
	lower := strings.ToLower(body)
	for _, phrase := range expiryPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Reconcile revisits every stored record whose status is not expired and
// re-classifies it against the live page. A probe failure keeps the record
// without mutating it: transient network trouble is not evidence that a
// posting died. Returns the surviving set. This loop is the only feedback
// path that prunes history and must run before the new-vs-old split of each
// open-position run.
func (s *Store) Reconcile(ctx context.Context, prober hunter.Prober, logger *zap.Logger) []hunter.JobRecord {
	if logger == nil {
		logger = zap.NewNop()
	}

	candidates := s.collectCandidates()
	logger.Info("rechecking previously found positions", zap.Int("count", len(candidates)))

	var survivors []hunter.JobRecord
	for _, rec := range candidates {
		if ctx.Err() != nil {
			// Run canceled: remaining records keep their prior state.
			survivors = append(survivors, rec)
			continue
		}

		res, err := prober.Probe(ctx, rec.URL)
		if err != nil {
			metrics.ObserveProbe(rec.URL, "error")
			logger.Debug("probe failed, keeping record unchanged",
				zap.String("url", rec.URL), zap.Error(err))
			survivors = append(survivors, rec)
			continue
		}

		if res.StatusCode < 200 || res.StatusCode >= 300 {
			metrics.ObserveProbe(rec.URL, "expired")
			logger.Info("posting expired",
				zap.String("url", rec.URL), zap.Int("status", res.StatusCode))
			if err := s.MarkExpired(rec.URL); err != nil {
				logger.Warn("mark expired failed", zap.String("url", rec.URL), zap.Error(err))
			}
			continue
		}

		if bodyLooksExpired(res.BodyText) {
			metrics.ObserveProbe(rec.URL, "expired")
			logger.Info("posting expired by page content", zap.String("url", rec.URL))
			if err := s.MarkExpired(rec.URL); err != nil {
				logger.Warn("mark expired failed", zap.String("url", rec.URL), zap.Error(err))
			}
			continue
		}

		metrics.ObserveProbe(rec.URL, "active")
		if err := s.MarkActive(rec.URL); err != nil {
			logger.Warn("mark active failed", zap.String("url", rec.URL), zap.Error(err))
		}
		rec.Status = hunter.StatusActive
		survivors = append(survivors, rec)
	}

	logger.Info("recheck finished", zap.Int("still_active", len(survivors)))
	return survivors
}

func (s *Store) collectCandidates() []hunter.JobRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(func(r hunter.JobRecord) bool {
		return r.Status != hunter.StatusExpired && r.URL != ""
	})
}
