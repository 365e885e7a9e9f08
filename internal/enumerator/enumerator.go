// Package enumerator walks every page of a catalog unit's listing and collects the item links.
package enumerator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"climatology/harvester/internal/domain"
	"climatology/harvester/internal/pagination"
	"climatology/harvester/internal/retry"
	"climatology/harvester/internal/session"

	"github.com/sirupsen/logrus"
)

var errEmptyListing = errors.New("listing reported zero entries")

// Config controls how listings are read
type Config struct {
	SummarySelector string
	PagerSelector   string
	LinkSelector    string
	ItemPattern     *regexp.Regexp
	WaitTimeout     time.Duration
	PageLoad        retry.Policy
	// PageSettle is slept after every page transition so client-side tables can redraw.
	PageSettle time.Duration
}

func (c *Config) defaults() {
	if c.SummarySelector == "" {
		c.SummarySelector = "div.dataTables_info"
	}
	if c.PagerSelector == "" {
		c.PagerSelector = "a"
	}
	if c.LinkSelector == "" {
		c.LinkSelector = "a"
	}
	if c.ItemPattern == nil {
		c.ItemPattern = regexp.MustCompile(`\.csv$`)
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 10 * time.Second
	}
	if c.PageLoad.MaxAttempts <= 0 {
		c.PageLoad = retry.DefaultPolicy()
	}
}

type Enumerator struct {
	cfg Config
}

func New(cfg Config) *Enumerator {
	cfg.defaults()
	return &Enumerator{cfg: cfg}
}

// WithPattern returns a copy of the enumerator selecting links with pattern instead.
func (e *Enumerator) WithPattern(pattern *regexp.Regexp) *Enumerator {
	cfg := e.cfg
	cfg.ItemPattern = pattern
	return &Enumerator{cfg: cfg}
}

// Enumerate returns the deduplicated items of every page of unit's listing.
//
// The pagination summary is read under the page-load retry policy with a full refresh between
// attempts. A malformed summary aborts immediately with a *domain.ParseError; a summary that
// never appears or keeps reporting zero entries yields *domain.EnumerationFailedError. Pages that
// cannot be reached are logged, recorded in Listing.SkippedPages and do not abort the unit.
func (e *Enumerator) Enumerate(ctx context.Context, sess session.Session, unit domain.CatalogUnit, logger logrus.FieldLogger) (*domain.Listing, error) {
	logger = logger.WithField("unit", unit.Key)

	listing := &domain.Listing{Unit: unit}
	hrefs, err := e.walk(ctx, sess, listing, logger)

	listing.Items = make([]domain.ItemReference, 0, len(hrefs))
	for _, href := range hrefs {
		item, ok := domain.NewItemReference(href)
		if !ok {
			logger.Warnf("Ignoring link without a file name: %s", href)
			continue
		}
		listing.Items = append(listing.Items, item)
	}

	if err != nil {
		if listing.Summary.TotalPages == 0 {
			return nil, err
		}
		return listing, err
	}

	logger.Infof("Finished collecting links: %d items across %d pages (%d skipped)",
		len(listing.Items), listing.Summary.TotalPages, len(listing.SkippedPages))

	return listing, nil
}

// Hrefs walks unit's listing like Enumerate but returns the raw matching links, including
// ones that do not name a file (e.g. directory links).
func (e *Enumerator) Hrefs(ctx context.Context, sess session.Session, unit domain.CatalogUnit, logger logrus.FieldLogger) ([]string, error) {
	listing := &domain.Listing{Unit: unit}
	return e.walk(ctx, sess, listing, logger.WithField("unit", unit.Key))
}

func (e *Enumerator) walk(ctx context.Context, sess session.Session, listing *domain.Listing, logger logrus.FieldLogger) ([]string, error) {
	logger.Infof("Navigating to listing %s", listing.Unit.ListingURL)

	summary, err := e.readSummary(ctx, sess, listing.Unit, logger)
	if err != nil {
		return nil, err
	}
	listing.Summary = summary

	logger.Infof("Total entries: %d, Entries per page: %d, Total pages: %d",
		summary.TotalItems, summary.ItemsPerPage, summary.TotalPages)

	hrefs := make([]string, 0, summary.TotalItems)
	seen := make(map[string]struct{}, summary.TotalItems)

	for page := 1; page <= summary.TotalPages; page++ {
		if err := ctx.Err(); err != nil {
			return hrefs, err
		}

		logger.Infof("Processing page %d of %d", page, summary.TotalPages)

		if page > 1 {
			target := session.Selector{CSS: e.cfg.PagerSelector, Text: strconv.Itoa(page)}
			if err := sess.Click(ctx, target, e.cfg.WaitTimeout); err != nil {
				e.skipPage(listing, page, err, logger)
				continue
			}
			if err := sleep(ctx, e.cfg.PageSettle); err != nil {
				return hrefs, err
			}
		}

		links, err := sess.Links(ctx, e.cfg.LinkSelector)
		if err != nil {
			e.skipPage(listing, page, err, logger)
			continue
		}

		found := 0
		for _, link := range links {
			if link.Href == "" || !e.cfg.ItemPattern.MatchString(link.Href) {
				continue
			}
			if _, dup := seen[link.Href]; dup {
				continue
			}
			seen[link.Href] = struct{}{}
			hrefs = append(hrefs, link.Href)
			found++
		}

		logger.Infof("Found %d new links on page %d", found, page)
	}

	return hrefs, nil
}

func (e *Enumerator) readSummary(ctx context.Context, sess session.Session, unit domain.CatalogUnit, logger logrus.FieldLogger) (domain.PageSummary, error) {
	var (
		summary domain.PageSummary
		loaded  bool
		parse   *domain.ParseError
	)

	attempts, err := e.cfg.PageLoad.Do(ctx, func(attempt int) error {
		var loadErr error
		if loaded {
			loadErr = sess.Refresh(ctx)
		} else {
			loadErr = sess.Navigate(ctx, unit.ListingURL)
		}
		if loadErr != nil {
			logger.WithField("attempt", attempt).Errorf("Page load attempt %d failed: %v", attempt, loadErr)
			return loadErr
		}
		loaded = true

		text, err := sess.WaitFor(ctx, e.cfg.SummarySelector, e.cfg.WaitTimeout)
		if err != nil {
			logger.WithField("attempt", attempt).Errorf("Page load attempt %d failed: %v", attempt, err)
			return err
		}

		s, err := pagination.Parse(text)
		if err != nil {
			return retry.Permanent(err)
		}
		if s.Empty() {
			logger.WithField("attempt", attempt).Warn("No entries detected, refreshing page")
			return errEmptyListing
		}

		logger.Infof("Page loaded successfully after %d attempts", attempt)
		summary = s
		return nil
	})

	switch {
	case err == nil:
		return summary, nil
	case errors.As(err, &parse):
		logger.Errorf("Error calculating pages and entries: %v", err)
		return domain.PageSummary{}, err
	case ctx.Err() != nil:
		return domain.PageSummary{}, ctx.Err()
	default:
		failed := &domain.EnumerationFailedError{Unit: unit.Key, Attempts: attempts, Err: err}
		logger.Errorf("Failed to load data after %d attempts: %v", attempts, err)
		return domain.PageSummary{}, failed
	}
}

func (e *Enumerator) skipPage(listing *domain.Listing, page int, err error, logger logrus.FieldLogger) {
	skipped := &domain.PageSkippedError{Unit: listing.Unit.Key, Page: page, Err: err}
	logger.WithField("page", page).Errorf("Navigation failed: %v", skipped)
	listing.SkippedPages = append(listing.SkippedPages, page)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("interrupted: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}
