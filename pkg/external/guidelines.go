// Package external contains clients for the engine's external
// collaborators: the Guidelines Database and the Notification Service.
// The engine core never performs blocking I/O itself; everything here runs
// before or after the pure computation.
package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/preventive-health-engine/internal/domain"
)

// GuidelinesConfig configures the Guidelines Database client
type GuidelinesConfig struct {
	BaseURL string
	Timeout time.Duration
}

// GuidelinesClient fetches guideline sets from the external Guidelines
// Database, with a circuit breaker and optional read-through cache. When
// the database is unreachable it degrades to the fallback set rather than
// failing the caller.
type GuidelinesClient struct {
	config   GuidelinesConfig
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	cache    *CacheClient
	fallback []domain.Guideline
	log      *logrus.Logger
}

// NewGuidelinesClient creates a new resilient guidelines client. cache may
// be nil to disable caching; fallback is served when the breaker is open
// or a fetch fails.
func NewGuidelinesClient(config GuidelinesConfig, cache *CacheClient, fallback []domain.Guideline, logger *logrus.Logger) *GuidelinesClient {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GuidelinesDB",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &GuidelinesClient{
		config:   config,
		client:   &http.Client{Timeout: config.Timeout},
		breaker:  breaker,
		cache:    cache,
		fallback: fallback,
		log:      logger,
	}
}

// Fetch returns the current guideline set. Order of preference: cache,
// live database, built-in fallback. A degraded result is logged, never
// propagated as a failure.
func (g *GuidelinesClient) Fetch(ctx context.Context) ([]domain.Guideline, error) {
	if g.cache != nil {
		cached, hit, err := g.cache.GetGuidelines(ctx)
		if err != nil {
			g.log.WithError(err).Warn("Guideline cache read failed")
		} else if hit {
			return cached, nil
		}
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.fetchRemote(ctx)
	})
	if err != nil {
		g.log.WithError(err).Warn("Guidelines database unavailable, serving fallback set")
		fallback := make([]domain.Guideline, len(g.fallback))
		copy(fallback, g.fallback)
		return fallback, nil
	}

	guidelines := result.([]domain.Guideline)

	if g.cache != nil {
		if err := g.cache.SetGuidelines(ctx, guidelines); err != nil {
			g.log.WithError(err).Warn("Guideline cache write failed")
		}
	}

	return guidelines, nil
}

// fetchRemote queries the Guidelines Database over HTTP
func (g *GuidelinesClient) fetchRemote(ctx context.Context) ([]domain.Guideline, error) {
	url := fmt.Sprintf("%s/guidelines", g.config.BaseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating guidelines request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying guidelines database: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("guidelines database returned status %d", resp.StatusCode)
	}

	var guidelines []domain.Guideline
	if err := json.NewDecoder(resp.Body).Decode(&guidelines); err != nil {
		return nil, domain.NewEngineError(domain.ErrGuidelineData, "malformed guideline data", err.Error())
	}

	return guidelines, nil
}
