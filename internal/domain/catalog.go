package domain

import (
	"net/url"
	"path"
	"strings"
	"time"
)

// CatalogUnit is one independently processable partition of the catalog (e.g. a year)
type CatalogUnit struct {
	Key        string `json:"key"`
	ListingURL string `json:"listing_url"`
}

func (u CatalogUnit) String() string {
	return u.Key
}

// PageSummary is the parsed "Showing A to B of T entries" footer of a listing
type PageSummary struct {
	TotalItems   int `json:"total_items"`
	ItemsPerPage int `json:"items_per_page"`
	TotalPages   int `json:"total_pages"` // 0 when the listing is empty
}

// Empty reports whether the listing declared zero entries.
func (s PageSummary) Empty() bool {
	return s.TotalItems == 0
}

// ItemReference is one downloadable file discovered on a listing page
type ItemReference struct {
	URL        string   `json:"url"`
	FileName   string   `json:"file_name"`
	Candidates []string `json:"candidates,omitempty"` // alternate URLs, tried in order after URL
}

// NewItemReference derives the local file name from the last path segment of rawURL.
// ok is false when no usable file name can be derived.
func NewItemReference(rawURL string) (ItemReference, bool) {
	name := FileNameFromURL(rawURL)
	if name == "" {
		return ItemReference{}, false
	}
	return ItemReference{URL: rawURL, FileName: name}, true
}

// FileNameFromURL returns the final path segment of rawURL without query or fragment.
func FileNameFromURL(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
		if p == "" && u.Opaque != "" {
			p = u.Opaque
		}
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}

	if p == "" || strings.HasSuffix(p, "/") {
		return ""
	}
	name := path.Base(p)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// Listing is the outcome of enumerating one unit across all of its pages
type Listing struct {
	Unit         CatalogUnit     `json:"unit"`
	Summary      PageSummary     `json:"summary"`
	Items        []ItemReference `json:"items"`
	SkippedPages []int           `json:"skipped_pages,omitempty"`
}

// DownloadOutcome is the result of fetching one item
type DownloadOutcome struct {
	Item         ItemReference `json:"item"`
	Destination  string        `json:"destination"`
	Succeeded    bool          `json:"succeeded"`
	AttemptsUsed int           `json:"attempts_used"` // attempts on the primary URL
	// FallbackAttempts counts attempts spent on alternate URLs after the primary one was exhausted.
	FallbackAttempts int   `json:"fallback_attempts,omitempty"`
	Skipped          bool  `json:"skipped,omitempty"` // already present locally
	Err              error `json:"-"`
}

// ReconciliationReport compares the declared entry count of a unit with the files on disk
type ReconciliationReport struct {
	UnitKey       string    `json:"unit_key"`
	DeclaredTotal int       `json:"declared_total"`
	ActualCount   int       `json:"actual_count"`
	MissingCount  int       `json:"missing_count"`
	CheckedAt     time.Time `json:"checked_at"`
}

// Complete reports whether nothing is missing.
func (r ReconciliationReport) Complete() bool {
	return r.MissingCount == 0
}
