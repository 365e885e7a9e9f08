package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"climatology/harvester/internal/domain"

	"github.com/PuerkitoBio/goquery"
	"resty.dev/v3"
)

const staticPollInterval = 500 * time.Millisecond

// StaticConfig configures the HTTP-only driver
type StaticConfig struct {
	Timeout   time.Duration
	UserAgent string
	Insecure  bool
}

type staticFactory struct {
	client *resty.Client
}

// NewStaticFactory returns a Factory whose sessions fetch pages over plain HTTP and parse them
// with goquery. Pagination links are followed through their href instead of being clicked.
func NewStaticFactory(cfg StaticConfig) Factory {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		SetHeader("Accept-Language", "en-US,en;q=0.5")
	if cfg.Insecure {
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}

	return &staticFactory{client: client}
}

func (f *staticFactory) Open(ctx context.Context) (Session, error) {
	return &staticSession{client: f.client}, nil
}

func (f *staticFactory) Close() error {
	return f.client.Close()
}

type staticSession struct {
	client  *resty.Client
	current *url.URL
	doc     *goquery.Document
}

func (s *staticSession) Navigate(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url %s: %w", rawURL, err)
	}

	doc, err := s.fetch(ctx, u)
	if err != nil {
		return err
	}

	s.current = u
	s.doc = doc
	return nil
}

func (s *staticSession) fetch(ctx context.Context, u *url.URL) (*goquery.Document, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		Get(u.String())
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("failed to fetch %s: %w", u, err)
	}

	if resp.IsError() {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode(), resp.Status())
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	return doc, nil
}

func (s *staticSession) WaitFor(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	if s.doc == nil {
		return "", errors.New("no page loaded")
	}

	deadline := time.Now().Add(timeout)
	for {
		if sel := s.doc.Find(selector).First(); sel.Length() > 0 {
			return strings.TrimSpace(sel.Text()), nil
		}

		if time.Now().Add(staticPollInterval).After(deadline) {
			return "", fmt.Errorf("%s: %w", selector, domain.ErrWaitTimeout)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(staticPollInterval):
		}

		// Content may be rendered late by the server, poll by re-fetching.
		if doc, err := s.fetch(ctx, s.current); err == nil {
			s.doc = doc
		}
	}
}

func (s *staticSession) Links(ctx context.Context, selector string) ([]Link, error) {
	if s.doc == nil {
		return nil, errors.New("no page loaded")
	}

	links := make([]Link, 0)
	s.doc.Find(selector).Each(func(i int, sel *goquery.Selection) {
		href, exists := sel.Attr("href")
		if !exists {
			return
		}

		links = append(links, Link{
			Href: s.resolve(href),
			Text: strings.TrimSpace(sel.Text()),
		})
	})

	return links, nil
}

func (s *staticSession) Click(ctx context.Context, target Selector, timeout time.Duration) error {
	if s.doc == nil {
		return errors.New("no page loaded")
	}

	var href string
	s.doc.Find(target.CSS).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if target.Text != "" && strings.TrimSpace(sel.Text()) != target.Text {
			return true
		}
		href, _ = sel.Attr("href")
		return false
	})

	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return fmt.Errorf("%s is not a followable link: %w", target, domain.ErrWaitTimeout)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return s.Navigate(ctx, s.resolve(href))
}

func (s *staticSession) Refresh(ctx context.Context) error {
	if s.current == nil {
		return errors.New("no page loaded")
	}
	return s.Navigate(ctx, s.current.String())
}

func (s *staticSession) Close() error {
	s.doc = nil
	return nil
}

func (s *staticSession) resolve(href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil || s.current == nil {
		return href
	}
	return s.current.ResolveReference(ref).String()
}
