package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"climatology/harvester/internal/domain"
	"climatology/harvester/internal/enumerator"
	"climatology/harvester/internal/fetcher"
	"climatology/harvester/internal/progress"
	"climatology/harvester/internal/queue"
	"climatology/harvester/internal/reconciler"
	"climatology/harvester/internal/session"
	"climatology/harvester/internal/state"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	UnitWorkers int
	ItemWorkers int

	OutputRoot string
	LogRoot    string

	UnitPattern    *regexp.Regexp
	ArchivePattern *regexp.Regexp
	// ListingRewrites turn discovered unit links into the URLs their listings are served from.
	ListingRewrites []fetcher.Rewrite

	ProgressInterval time.Duration
	ProgressOutput   io.Writer

	// StartedAt names the per-unit log files of this run.
	StartedAt time.Time

	// MaxRetryRounds bounds how many retry passes one failed item gets.
	MaxRetryRounds int
	RetryClaimIdle time.Duration
}

type Service struct {
	sessions     session.Factory
	enumerator   *enumerator.Enumerator
	fetcher      *fetcher.Executor
	reconciler   *reconciler.Reconciler
	stateManager state.StateManager
	retryQueue   queue.Queue
	opts         Options
}

func NewService(
	sessions session.Factory,
	enumerator *enumerator.Enumerator,
	fetcher *fetcher.Executor,
	reconciler *reconciler.Reconciler,
	stateManager state.StateManager,
	retryQueue queue.Queue,
	opts Options,
) *Service {
	if opts.UnitWorkers < 1 {
		opts.UnitWorkers = 1
	}
	if opts.ItemWorkers < 1 {
		opts.ItemWorkers = 1
	}
	if opts.UnitPattern == nil {
		opts.UnitPattern = regexp.MustCompile(`/[0-9]{4}/$`)
	}
	if opts.StartedAt.IsZero() {
		opts.StartedAt = time.Now()
	}
	if opts.MaxRetryRounds < 1 {
		opts.MaxRetryRounds = 3
	}

	return &Service{
		sessions:     sessions,
		enumerator:   enumerator,
		fetcher:      fetcher,
		reconciler:   reconciler,
		stateManager: stateManager,
		retryQueue:   retryQueue,
		opts:         opts,
	}
}

// Harvest processes every unit on a pool of UnitWorkers workers. A failing unit never affects
// the others; its outcome is recorded in the summary. The only error is domain.ErrNoSession,
// returned when not a single unit could open a browsing session, or the context's error.
func (s *Service) Harvest(ctx context.Context, units []domain.CatalogUnit) (*domain.RunSummary, error) {
	start := time.Now()

	tracker := progress.NewTracker()
	for _, u := range units {
		tracker.Register(u.Key)
	}

	reporter := progress.NewReporter(tracker, progress.Options{
		Label:          "harvest",
		Output:         s.opts.ProgressOutput,
		UpdateInterval: s.opts.ProgressInterval,
	})
	reporter.Start()

	log.Infof("🚀 Harvesting %d units with %d workers", len(units), s.opts.UnitWorkers)

	results := make([]*domain.UnitResult, len(units))
	var opened atomic.Int32

	g := new(errgroup.Group)
	g.SetLimit(s.opts.UnitWorkers)

	for i, unit := range units {
		g.Go(func() error {
			results[i] = s.runUnit(ctx, unit, &opened)
			tracker.Increment(unit.Key)
			return nil
		})
	}
	g.Wait()
	reporter.Stop()

	summary := &domain.RunSummary{Results: results, Duration: time.Since(start)}
	s.logSummary(summary)

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if len(units) > 0 && opened.Load() == 0 {
		return summary, domain.ErrNoSession
	}
	return summary, nil
}

func (s *Service) runUnit(ctx context.Context, unit domain.CatalogUnit, opened *atomic.Int32) (result *domain.UnitResult) {
	started := time.Now()
	result = &domain.UnitResult{Unit: unit}

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("💥 Worker for unit %s panicked: %v", unit.Key, r)
			result.Status = domain.UnitStatusFailed
			result.Error = fmt.Sprintf("panic: %v", r)
		}
		result.Duration = time.Since(started)
		result.FinishedAt = time.Now()
		s.saveResult(ctx, result)
	}()

	if err := ctx.Err(); err != nil {
		result.Status = domain.UnitStatusFailed
		result.Error = err.Error()
		return result
	}

	w, err := s.newWorker(ctx, unit)
	if err != nil {
		log.Errorf("❌ Unit %s: %v", unit.Key, err)
		result.Status = domain.UnitStatusFailed
		result.Error = err.Error()
		return result
	}
	defer w.close()
	opened.Add(1)

	w.run(ctx, result)
	return result
}

func (s *Service) saveResult(ctx context.Context, result *domain.UnitResult) {
	if s.stateManager == nil {
		return
	}
	// Record the outcome even when the run is being cancelled.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.stateManager.SaveResult(saveCtx, result); err != nil {
		log.Warnf("⚠️ Failed to record state for unit %s: %v", result.Unit.Key, err)
	}
}

func (s *Service) logSummary(summary *domain.RunSummary) {
	log.Infof("✅ Run finished in %s: %d completed, %d incomplete, %d enumeration failed, %d failed",
		summary.Duration.Round(time.Second),
		summary.Count(domain.UnitStatusCompleted),
		summary.Count(domain.UnitStatusIncomplete),
		summary.Count(domain.UnitStatusEnumerationFailed),
		summary.Count(domain.UnitStatusFailed),
	)
	for _, r := range summary.Results {
		if r == nil || r.Status == domain.UnitStatusCompleted {
			continue
		}
		log.Warnf("⚠️ Unit %s: %s (%s)", r.Unit.Key, r.Status, r.Error)
	}
}

// Archive collects the bulk archive links of a single listing and downloads them into dir with
// ItemWorkers parallel fetchers.
func (s *Service) Archive(ctx context.Context, listingURL, dir string) (*domain.UnitResult, error) {
	started := time.Now()
	unit := domain.CatalogUnit{Key: filepath.Base(dir), ListingURL: listingURL}
	logger := log.WithField("unit", unit.Key)

	sess, err := s.sessions.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNoSession, err)
	}
	defer sess.Close()

	e := s.enumerator
	if s.opts.ArchivePattern != nil {
		e = e.WithPattern(s.opts.ArchivePattern)
	}

	result := &domain.UnitResult{Unit: unit}
	listing, err := e.Enumerate(ctx, sess, unit, logger)
	if err != nil {
		result.Status = domain.UnitStatusEnumerationFailed
		result.Error = err.Error()
		result.Duration = time.Since(started)
		result.FinishedAt = time.Now()
		return result, nil
	}
	result.Summary = listing.Summary
	result.Items = len(listing.Items)

	tracker := progress.NewTracker()
	for _, item := range listing.Items {
		tracker.Register(item.FileName)
	}
	reporter := progress.NewReporter(tracker, progress.Options{
		Label:          "archive",
		Noun:           "files",
		Output:         s.opts.ProgressOutput,
		UpdateInterval: s.opts.ProgressInterval,
	})
	reporter.Start()

	logger.Infof("📦 Downloading %d archives with %d workers", len(listing.Items), s.opts.ItemWorkers)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.opts.ItemWorkers)

	for _, item := range listing.Items {
		g.Go(func() error {
			defer tracker.Increment(item.FileName)

			out := s.fetcher.Fetch(ctx, item, filepath.Join(dir, item.FileName), logger)

			mu.Lock()
			defer mu.Unlock()
			tally(result, out)
			return nil
		})
	}
	g.Wait()
	reporter.Stop()

	result.Status = domain.UnitStatusCompleted
	if result.Failed > 0 || len(listing.SkippedPages) > 0 {
		result.Status = domain.UnitStatusIncomplete
		result.Error = fmt.Sprintf("%d downloads failed, %d pages skipped", result.Failed, len(listing.SkippedPages))
	}
	result.Duration = time.Since(started)
	result.FinishedAt = time.Now()

	logger.Infof("✅ Archive finished: %d downloaded, %d already present, %d failed",
		result.Downloaded, result.Skipped, result.Failed)

	return result, ctx.Err()
}

// Discover reads the root listing and returns one unit per matching link, keyed by the link's
// last path segment and sorted by key.
func (s *Service) Discover(ctx context.Context, rootURL string) ([]domain.CatalogUnit, error) {
	sess, err := s.sessions.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNoSession, err)
	}
	defer sess.Close()

	root := domain.CatalogUnit{Key: "root", ListingURL: rootURL}
	hrefs, err := s.enumerator.WithPattern(s.opts.UnitPattern).Hrefs(ctx, sess, root, log.StandardLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to read root listing: %w", err)
	}

	byKey := make(map[string]domain.CatalogUnit, len(hrefs))
	for _, href := range hrefs {
		key := path.Base(strings.TrimRight(href, "/"))
		if key == "" || key == "." || key == "/" {
			continue
		}
		if _, dup := byKey[key]; dup {
			continue
		}
		byKey[key] = domain.CatalogUnit{Key: key, ListingURL: s.rewriteListing(href)}
	}

	units := make([]domain.CatalogUnit, 0, len(byKey))
	for _, u := range byKey {
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Key < units[j].Key })

	log.Infof("🔎 Discovered %d units", len(units))
	return units, nil
}

func (s *Service) rewriteListing(href string) string {
	for _, r := range s.opts.ListingRewrites {
		if r.Match.MatchString(href) {
			return r.Match.ReplaceAllString(href, r.Replace)
		}
	}
	return href
}

// Status returns the recorded results for keys, or for every known unit when keys is empty.
func (s *Service) Status(ctx context.Context, keys []string) ([]*domain.UnitResult, error) {
	if s.stateManager == nil {
		return nil, errors.New("no state store configured")
	}
	if len(keys) == 0 {
		return s.stateManager.ListResults(ctx)
	}

	results := make([]*domain.UnitResult, 0, len(keys))
	for _, k := range keys {
		r, err := s.stateManager.GetResult(ctx, k)
		if err != nil {
			return nil, err
		}
		if r != nil {
			results = append(results, r)
		}
	}
	return results, nil
}

func tally(result *domain.UnitResult, out domain.DownloadOutcome) {
	switch {
	case out.Skipped:
		result.Skipped++
	case out.Succeeded:
		result.Downloaded++
	default:
		result.Failed++
	}
}
