// Package sessiontest provides an in-memory catalog site implementing session.Factory.
package sessiontest

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"climatology/harvester/internal/domain"
	"climatology/harvester/internal/session"
)

const emptySummary = "Showing 0 to 0 of 0 entries"

// Listing is the scripted content of one listing URL.
type Listing struct {
	Summary string
	Pages   [][]session.Link
	// TimeoutLoads is the number of initial loads on which the summary never appears.
	TimeoutLoads int
	// EmptyLoads is the number of loads after TimeoutLoads that report zero entries.
	EmptyLoads  int
	BrokenPages map[int]bool
	NavigateErr error
}

// Site serves Listings by URL and counts how sessions use it.
type Site struct {
	Listings map[string]*Listing
	OpenErr  error

	mu     sync.Mutex
	loads  map[string]int
	opened int
	closed int
	active int
	peak   int
}

func NewSite() *Site {
	return &Site{Listings: make(map[string]*Listing), loads: make(map[string]int)}
}

func (s *Site) Add(url string, l *Listing) *Site {
	s.Listings[url] = l
	return s
}

func (s *Site) Open(ctx context.Context) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	s.opened++
	s.active++
	if s.active > s.peak {
		s.peak = s.active
	}
	return &Session{site: s}, nil
}

func (s *Site) Close() error {
	return nil
}

// Loads returns how many times url was navigated to or refreshed.
func (s *Site) Loads(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads[url]
}

// Stats returns opened, closed and peak concurrent session counts.
func (s *Site) Stats() (opened, closed, peak int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened, s.closed, s.peak
}

func (s *Site) load(url string) (int, *Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.Listings[url]
	if !ok {
		return 0, nil, fmt.Errorf("unknown listing %s", url)
	}
	if l.NavigateErr != nil {
		return 0, nil, l.NavigateErr
	}
	s.loads[url]++
	return s.loads[url], l, nil
}

// Session is a single browsing context over a Site.
type Session struct {
	site    *Site
	url     string
	listing *Listing
	load    int
	page    int
	closed  bool
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	load, l, err := s.site.load(url)
	if err != nil {
		return err
	}
	s.url, s.listing, s.load, s.page = url, l, load, 1
	return nil
}

func (s *Session) WaitFor(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	if s.listing == nil {
		return "", fmt.Errorf("no page loaded")
	}
	switch {
	case s.load <= s.listing.TimeoutLoads:
		return "", fmt.Errorf("%s: %w", selector, domain.ErrWaitTimeout)
	case s.load <= s.listing.TimeoutLoads+s.listing.EmptyLoads:
		return emptySummary, nil
	}
	return s.listing.Summary, nil
}

func (s *Session) Links(ctx context.Context, selector string) ([]session.Link, error) {
	if s.listing == nil {
		return nil, fmt.Errorf("no page loaded")
	}
	if s.page < 1 || s.page > len(s.listing.Pages) {
		return nil, nil
	}
	return append([]session.Link(nil), s.listing.Pages[s.page-1]...), nil
}

func (s *Session) Click(ctx context.Context, sel session.Selector, timeout time.Duration) error {
	if s.listing == nil {
		return fmt.Errorf("no page loaded")
	}
	n, err := strconv.Atoi(sel.Text)
	if err != nil || n < 1 || n > len(s.listing.Pages) || s.listing.BrokenPages[n] {
		return fmt.Errorf("%s: %w", sel, domain.ErrWaitTimeout)
	}
	s.page = n
	return nil
}

func (s *Session) Refresh(ctx context.Context) error {
	if s.url == "" {
		return fmt.Errorf("no page loaded")
	}
	return s.Navigate(ctx, s.url)
}

func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.site.mu.Lock()
	s.site.closed++
	s.site.active--
	s.site.mu.Unlock()
	return nil
}

// Files builds a listing of n items named <prefix>NNN.csv under base, perPage items per page.
func Files(base, prefix string, n, perPage int) *Listing {
	l := &Listing{}
	if n == 0 {
		l.Summary = emptySummary
		return l
	}
	l.Summary = fmt.Sprintf("Showing 1 to %d of %d entries", min(perPage, n), n)

	for i := 0; i < n; i++ {
		if i%perPage == 0 {
			l.Pages = append(l.Pages, nil)
		}
		href := fmt.Sprintf("%s/%s%03d.csv", base, prefix, i)
		p := len(l.Pages) - 1
		l.Pages[p] = append(l.Pages[p], session.Link{Href: href, Text: prefix})
	}
	return l
}
