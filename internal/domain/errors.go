package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSession is returned when no browsing session could be established for any unit.
	ErrNoSession = errors.New("no browsing session could be established")

	// ErrWaitTimeout is returned by sessions when a bounded wait expires.
	ErrWaitTimeout = errors.New("timed out waiting for page element")
)

// ParseError reports a malformed pagination summary.
type ParseError struct {
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed pagination summary %q: %s", e.Text, e.Reason)
}

// EnumerationFailedError is returned when a unit's listing never reported its entries.
type EnumerationFailedError struct {
	Unit     string
	Attempts int
	Err      error
}

func (e *EnumerationFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("enumeration of unit %s failed after %d attempts: %v", e.Unit, e.Attempts, e.Err)
	}
	return fmt.Sprintf("enumeration of unit %s failed after %d attempts", e.Unit, e.Attempts)
}

func (e *EnumerationFailedError) Unwrap() error {
	return e.Err
}

// PageSkippedError records a listing page that could not be reached.
type PageSkippedError struct {
	Unit string
	Page int
	Err  error
}

func (e *PageSkippedError) Error() string {
	return fmt.Sprintf("unit %s: page %d skipped: %v", e.Unit, e.Page, e.Err)
}

func (e *PageSkippedError) Unwrap() error {
	return e.Err
}

// FetchError describes an item that could not be retrieved after all attempts.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ShortfallError is raised when fewer files are on disk than the catalog declares.
type ShortfallError struct {
	Report ReconciliationReport
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("unit %s: %d of %d files missing (%d downloaded)",
		e.Report.UnitKey, e.Report.MissingCount, e.Report.DeclaredTotal, e.Report.ActualCount)
}
