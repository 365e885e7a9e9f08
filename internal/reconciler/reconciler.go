// Package reconciler compares the files on disk for a unit with the count its listing declared.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"climatology/harvester/internal/domain"

	"github.com/sirupsen/logrus"
)

// ReportStore persists reconciliation reports outside the local filesystem.
type ReportStore interface {
	SaveReport(ctx context.Context, report domain.ReconciliationReport) error
}

type Config struct {
	OutputRoot string
	MissingDir string
	// Extension selects which files count, e.g. ".csv". Empty counts every regular file.
	Extension string
}

type Reconciler struct {
	cfg   Config
	store ReportStore
	now   func() time.Time
}

// New returns a Reconciler. store may be nil.
func New(cfg Config, store ReportStore) *Reconciler {
	return &Reconciler{cfg: cfg, store: store, now: time.Now}
}

// Reconcile counts unit's local files and compares them with declared. When files are missing a
// report is written to the missing directory; otherwise a stale report is removed.
func (r *Reconciler) Reconcile(ctx context.Context, unitKey string, declared int, logger logrus.FieldLogger) (domain.ReconciliationReport, error) {
	actual, err := r.Count(unitKey)
	if err != nil {
		return domain.ReconciliationReport{}, err
	}

	report := domain.ReconciliationReport{
		UnitKey:       unitKey,
		DeclaredTotal: declared,
		ActualCount:   actual,
		MissingCount:  max(0, declared-actual),
		CheckedAt:     r.now(),
	}

	if report.Complete() {
		logger.Infof("All files downloaded successfully: %d of %d", actual, declared)
		if err := r.removeStaleReport(unitKey); err != nil {
			logger.Warnf("Failed to remove stale missing report: %v", err)
		}
	} else {
		logger.Errorf("Missing %d files for %s (declared %d, downloaded %d)", report.MissingCount, unitKey, declared, actual)
		path, err := r.writeReport(report)
		if err != nil {
			return report, err
		}
		logger.Infof("Missing files report saved to %s", path)
	}

	if r.store != nil {
		if err := r.store.SaveReport(ctx, report); err != nil {
			logger.Warnf("Failed to store reconciliation report: %v", err)
		}
	}

	return report, nil
}

// Count returns the number of regular files with the configured extension in the unit's output
// directory. A directory that does not exist holds zero files.
func (r *Reconciler) Count(unitKey string) (int, error) {
	entries, err := os.ReadDir(r.UnitDir(unitKey))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list %s: %w", r.UnitDir(unitKey), err)
	}

	n := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if r.cfg.Extension != "" && !strings.HasSuffix(e.Name(), r.cfg.Extension) {
			continue
		}
		n++
	}
	return n, nil
}

func (r *Reconciler) UnitDir(unitKey string) string {
	return filepath.Join(r.cfg.OutputRoot, unitKey)
}

// ReportPath is where the missing-files report for unitKey is written.
func (r *Reconciler) ReportPath(unitKey string) string {
	return filepath.Join(r.cfg.MissingDir, fmt.Sprintf("missing_%s.txt", unitKey))
}

func (r *Reconciler) writeReport(report domain.ReconciliationReport) (string, error) {
	if err := os.MkdirAll(r.cfg.MissingDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", r.cfg.MissingDir, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Unit: %s\n", report.UnitKey)
	fmt.Fprintf(&b, "Total entries: %d\n", report.DeclaredTotal)
	fmt.Fprintf(&b, "Downloaded: %d\n", report.ActualCount)
	fmt.Fprintf(&b, "Missing: %d\n", report.MissingCount)
	fmt.Fprintf(&b, "Checked at: %s\n", report.CheckedAt.Format(time.RFC3339))

	path := r.ReportPath(report.UnitKey)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write missing report: %w", err)
	}
	return path, nil
}

func (r *Reconciler) removeStaleReport(unitKey string) error {
	err := os.Remove(r.ReportPath(unitKey))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
