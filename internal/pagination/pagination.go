// Package pagination parses listing footers of the form "Showing A to B of T entries".
package pagination

import (
	"regexp"
	"strconv"
	"strings"

	"climatology/harvester/internal/domain"
)

const number = `(\d[\d,.'_\x{00A0}\x{202F} ]*)`

var summaryRegex = regexp.MustCompile(`(?i)(?:showing\s+)?` + number + `\s+to\s+` + number + `\s+of\s+` + number + `\s+entries`)

var separators = strings.NewReplacer(",", "", ".", "", "'", "", "_", "", " ", "", "\u00a0", "", "\u202f", "")

// Parse extracts the total item count and page size from a summary footer and derives the
// number of pages. An empty listing yields a summary with Empty() == true and zero pages.
func Parse(text string) (domain.PageSummary, error) {
	matches := summaryRegex.FindStringSubmatch(text)
	if len(matches) < 4 {
		return domain.PageSummary{}, &domain.ParseError{Text: text, Reason: `expected "A to B of T entries"`}
	}

	first, err := parseInt(matches[1])
	if err != nil {
		return domain.PageSummary{}, &domain.ParseError{Text: text, Reason: err.Error()}
	}
	last, err := parseInt(matches[2])
	if err != nil {
		return domain.PageSummary{}, &domain.ParseError{Text: text, Reason: err.Error()}
	}
	total, err := parseInt(matches[3])
	if err != nil {
		return domain.PageSummary{}, &domain.ParseError{Text: text, Reason: err.Error()}
	}

	if total == 0 {
		return domain.PageSummary{}, nil
	}

	if first < 1 {
		return domain.PageSummary{}, &domain.ParseError{Text: text, Reason: "first entry must be positive"}
	}
	if last < first {
		return domain.PageSummary{}, &domain.ParseError{Text: text, Reason: "last entry precedes first entry"}
	}

	perPage := last - first + 1
	return domain.PageSummary{
		TotalItems:   total,
		ItemsPerPage: perPage,
		TotalPages:   Pages(total, perPage),
	}, nil
}

// Pages returns ceil(total/perPage). It returns 0 for an empty listing or a non-positive page size.
func Pages(total, perPage int) int {
	if total <= 0 || perPage <= 0 {
		return 0
	}
	pages := total / perPage
	if total%perPage != 0 {
		pages++
	}
	return pages
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(separators.Replace(strings.TrimSpace(s)))
}
