// Package usecase contains the business logic of the application.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"contribtrack/internal/cache"
	"contribtrack/internal/config"
	"contribtrack/internal/domain"
	"contribtrack/internal/gateway"
)

// ErrNoConnectors is returned when a report is requested with no data
// sources at all.
var ErrNoConnectors = errors.New("no connectors configured")

// Generator orchestrates connectors into one normalized, deduplicated,
// chronologically ordered contribution report.
type Generator struct {
	cfg    *config.Config
	store  *cache.Store // nil disables caching
	logger logrus.FieldLogger
}

// NewGenerator creates a Generator. Passing a nil store disables the
// write-behind contribution cache.
func NewGenerator(cfg *config.Config, store *cache.Store, logger logrus.FieldLogger) *Generator {
	return &Generator{cfg: cfg, store: store, logger: logger}
}

// GenerateReport fetches contributions from all connectors concurrently,
// merges them through the deduplicator, attaches billing project IDs, and
// returns the result sorted newest first. A failing connector is logged and
// contributes nothing; the report fails only when no connector succeeds.
func (g *Generator) GenerateReport(ctx context.Context, connectors []gateway.Connector, from, to time.Time) ([]domain.Contribution, error) {
	return g.generate(ctx, connectors, from, to, false)
}

// GenerateCommitsReport is the every-branch variant: each connector's
// all-commits pass is unioned with its regular contribution fetch before
// the cross-source merge.
func (g *Generator) GenerateCommitsReport(ctx context.Context, connectors []gateway.Connector, from, to time.Time) ([]domain.Contribution, error) {
	return g.generate(ctx, connectors, from, to, true)
}

type fetchResult struct {
	platform string
	contribs []domain.Contribution
	err      error
}

func (g *Generator) generate(ctx context.Context, connectors []gateway.Connector, from, to time.Time, allCommits bool) ([]domain.Contribution, error) {
	if len(connectors) == 0 {
		return nil, ErrNoConnectors
	}

	results := make(chan fetchResult, len(connectors))
	for _, conn := range connectors {
		conn := conn
		go func() {
			results <- g.fetchOne(ctx, conn, from, to, allCommits)
		}()
	}

	all := make([]domain.Contribution, 0)
	failed := 0
	for range connectors {
		res := <-results
		if res.err != nil {
			g.logger.WithError(res.err).WithField("platform", res.platform).Error("connector fetch failed, continuing without it")
			failed++
			continue
		}
		all = append(all, res.contribs...)
	}
	if failed == len(connectors) {
		return nil, fmt.Errorf("all %d connectors failed", failed)
	}

	merged := domain.Deduplicate(all, g.cfg.BaseBranches)
	merged = g.enrich(merged)
	domain.SortDescending(merged)
	return merged, nil
}

func (g *Generator) fetchOne(ctx context.Context, conn gateway.Connector, from, to time.Time, allCommits bool) fetchResult {
	platform := conn.PlatformName()
	log := g.logger.WithField("platform", platform)

	username, err := conn.UserLogin(ctx)
	if err != nil {
		return fetchResult{platform: platform, err: err}
	}
	log = log.WithField("user", username)

	contribs, err := conn.FetchContributions(ctx, from, to)
	if err != nil {
		return fetchResult{platform: platform, err: err}
	}
	if allCommits {
		commits, err := conn.FetchAllCommits(ctx, from, to)
		if err != nil {
			return fetchResult{platform: platform, err: err}
		}
		contribs = domain.Deduplicate(append(contribs, commits...), g.cfg.BaseBranches)
	}
	log.WithField("count", len(contribs)).Debug("fetched contributions")

	if g.store != nil {
		cached := g.store.Load(platform, username)
		log.WithField("cached", len(cached)).Debug("merging fetched window into cache")
		if err := g.store.Save(platform, username, contribs); err != nil {
			// The fresh data still flows into the report; only the
			// write-behind history is lost, and that is signaled.
			log.WithError(err).Error("persisting fetched contributions failed")
		}
	}

	return fetchResult{platform: platform, contribs: contribs}
}

// enrich attaches the configured billing project ID to contributions whose
// repository exactly matches a mapping key. Contributions are values, so
// enrichment builds new records rather than mutating shared state.
func (g *Generator) enrich(cs []domain.Contribution) []domain.Contribution {
	if len(g.cfg.RepositoryProjectIDs) == 0 {
		return cs
	}
	out := make([]domain.Contribution, 0, len(cs))
	for _, c := range cs {
		if id, ok := g.cfg.RepositoryProjectIDs[c.Repository]; ok && c.Repository != "" {
			c = c.WithProjectID(id)
		}
		out = append(out, c)
	}
	return out
}
