package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"climatology/harvester/internal/domain"
	"climatology/harvester/internal/logging"
	"climatology/harvester/internal/session"

	log "github.com/sirupsen/logrus"
)

// worker holds everything one unit's task owns: its unit, its browsing session and its logger.
// Nothing in it is shared with other workers.
type worker struct {
	s       *Service
	unit    domain.CatalogUnit
	session session.Session
	logger  log.FieldLogger
	closers []func() error
}

func (s *Service) newWorker(ctx context.Context, unit domain.CatalogUnit) (*worker, error) {
	w := &worker{s: s, unit: unit}

	if s.opts.LogRoot != "" {
		unitLog, err := logging.NewUnitLogger(s.opts.LogRoot, unit.Key, s.opts.StartedAt, log.StandardLogger())
		if err != nil {
			log.Warnf("⚠️ Unit %s: falling back to process logger: %v", unit.Key, err)
			w.logger = log.WithField("unit", unit.Key)
		} else {
			w.logger = unitLog
			w.closers = append(w.closers, unitLog.Close)
		}
	} else {
		w.logger = log.WithField("unit", unit.Key)
	}

	sess, err := s.sessions.Open(ctx)
	if err != nil {
		w.logger.Errorf("Failed to open browsing session: %v", err)
		w.close()
		return nil, fmt.Errorf("open session: %w", err)
	}
	w.session = sess
	w.closers = append([]func() error{sess.Close}, w.closers...)

	return w, nil
}

func (w *worker) close() {
	for _, c := range w.closers {
		if err := c(); err != nil {
			log.Warnf("⚠️ Unit %s: cleanup failed: %v", w.unit.Key, err)
		}
	}
	w.closers = nil
}

// run enumerates the unit, fetches every item in order and reconciles the result.
func (w *worker) run(ctx context.Context, result *domain.UnitResult) {
	w.logger.Infof("Starting unit %s", w.unit.Key)

	listing, err := w.s.enumerator.Enumerate(ctx, w.session, w.unit, w.logger)
	if err != nil {
		var enumFailed *domain.EnumerationFailedError
		var parseErr *domain.ParseError
		switch {
		case errors.As(err, &enumFailed), errors.As(err, &parseErr):
			result.Status = domain.UnitStatusEnumerationFailed
		default:
			result.Status = domain.UnitStatusFailed
		}
		result.Error = err.Error()
		if listing != nil {
			result.Summary = listing.Summary
		}
		return
	}
	result.Summary = listing.Summary
	result.Items = len(listing.Items)

	dir := filepath.Join(w.s.opts.OutputRoot, w.unit.Key)
	for _, item := range listing.Items {
		if ctx.Err() != nil {
			break
		}
		out := w.s.fetcher.Fetch(ctx, item, filepath.Join(dir, item.FileName), w.logger)
		tally(result, out)
		if !out.Succeeded && !out.Skipped && ctx.Err() == nil {
			w.s.enqueueRetry(ctx, w.unit.Key, out, w.logger)
		}
	}

	report, err := w.s.reconciler.Reconcile(ctx, w.unit.Key, listing.Summary.TotalItems, w.logger)
	if err != nil {
		w.logger.Errorf("Reconciliation failed: %v", err)
		result.Status = domain.UnitStatusFailed
		result.Error = err.Error()
		return
	}
	result.Report = &report

	if report.Complete() {
		result.Status = domain.UnitStatusCompleted
	} else {
		result.Status = domain.UnitStatusIncomplete
		result.Error = (&domain.ShortfallError{Report: report}).Error()
	}

	if err := ctx.Err(); err != nil {
		result.Status = domain.UnitStatusFailed
		result.Error = err.Error()
	}

	w.logger.Infof("Finished unit %s: %s (%d downloaded, %d already present, %d failed)",
		w.unit.Key, result.Status, result.Downloaded, result.Skipped, result.Failed)
}
