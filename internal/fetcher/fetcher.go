// Package fetcher retrieves single catalog items under a bounded retry policy.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"

	"climatology/harvester/internal/client"
	"climatology/harvester/internal/config"
	"climatology/harvester/internal/domain"
	"climatology/harvester/internal/retry"

	"github.com/sirupsen/logrus"
)

var errEmptyFile = errors.New("downloaded file is empty")

// Transferer copies a remote URL to a local path
type Transferer interface {
	Transfer(ctx context.Context, url, dest string) error
}

// Rewrite derives an alternate URL from an item's primary URL.
type Rewrite struct {
	Match   *regexp.Regexp
	Replace string
}

func CompileRewrites(rules []config.RewriteRule) ([]Rewrite, error) {
	rewrites := make([]Rewrite, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Match)
		if err != nil {
			return nil, fmt.Errorf("invalid fallback rewrite %q: %w", r.Match, err)
		}
		rewrites = append(rewrites, Rewrite{Match: re, Replace: r.Replace})
	}
	return rewrites, nil
}

type Config struct {
	Policy       retry.Policy
	SkipExisting bool
	Rewrites     []Rewrite
}

type Executor struct {
	transfer Transferer
	cfg      Config
}

func New(transfer Transferer, cfg Config) *Executor {
	return &Executor{transfer: transfer, cfg: cfg}
}

// Fetch downloads item to dest. It never returns an error: a failure is reported in the outcome
// with the number of attempts spent, and no partial file is left behind. A destination that was
// already complete before the call is never removed.
func (e *Executor) Fetch(ctx context.Context, item domain.ItemReference, dest string, logger logrus.FieldLogger) domain.DownloadOutcome {
	outcome := domain.DownloadOutcome{Item: item, Destination: dest}

	if e.cfg.SkipExisting && nonEmpty(dest) {
		logger.Debugf("Skipping %s, already present", item.FileName)
		outcome.Succeeded = true
		outcome.Skipped = true
		return outcome
	}

	existed := nonEmpty(dest)

	var lastErr error
	for i, url := range e.Candidates(item) {
		if i > 0 {
			logger.WithField("url", url).Warnf("Trying alternate location for %s", item.FileName)
		}

		attempts, err := e.cfg.Policy.Do(ctx, func(attempt int) error {
			err := e.transfer.Transfer(ctx, url, dest)
			if err == nil && !nonEmpty(dest) {
				os.Remove(dest)
				err = errEmptyFile
			}
			if err != nil {
				logger.WithFields(logrus.Fields{"attempt": attempt, "url": url}).
					Errorf("Attempt %d failed for %s: %v", attempt, item.FileName, err)
			}
			return err
		})
		if i == 0 {
			outcome.AttemptsUsed = attempts
		} else {
			outcome.FallbackAttempts += attempts
		}

		if err == nil {
			outcome.Succeeded = true
			logger.Debugf("Downloaded %s", item.FileName)
			return outcome
		}

		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	// A copy that was already complete before this call stays in place.
	os.Remove(client.PartPath(dest))
	if !existed {
		os.Remove(dest)
	}

	outcome.Err = &domain.FetchError{URL: item.URL, Attempts: outcome.AttemptsUsed, Err: lastErr}
	logger.WithField("url", item.URL).Errorf("Failed to download %s after %d attempts (%d on alternate locations)",
		item.FileName, outcome.AttemptsUsed, outcome.FallbackAttempts)

	return outcome
}

// Candidates returns the primary URL followed by the item's own candidates and the configured
// rewrites of the primary URL, without duplicates.
func (e *Executor) Candidates(item domain.ItemReference) []string {
	urls := []string{item.URL}
	seen := map[string]struct{}{item.URL: {}}

	add := func(u string) {
		if _, ok := seen[u]; ok || u == "" {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	for _, c := range item.Candidates {
		add(c)
	}
	for _, r := range e.cfg.Rewrites {
		if r.Match.MatchString(item.URL) {
			add(r.Match.ReplaceAllString(item.URL, r.Replace))
		}
	}

	return urls
}

func nonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
