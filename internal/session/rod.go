package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"climatology/harvester/internal/domain"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	log "github.com/sirupsen/logrus"
)

// RodConfig configures the headless Chrome driver
type RodConfig struct {
	// RemoteURL is the DevTools websocket of an already running Chrome. Empty launches one.
	RemoteURL       string
	Bin             string
	Headless        bool
	NoSandbox       bool
	Stealth         bool
	NavigateTimeout time.Duration
}

type rodFactory struct {
	cfg     RodConfig
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewRodFactory starts (or connects to) one Chrome process. Every session it opens is a separate
// incognito context with a single page, so workers never share cookies or navigation state.
func NewRodFactory(cfg RodConfig) (Factory, error) {
	if cfg.NavigateTimeout <= 0 {
		cfg.NavigateTimeout = 30 * time.Second
	}

	f := &rodFactory{cfg: cfg}

	wsURL := cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().
			Headless(cfg.Headless).
			NoSandbox(cfg.NoSandbox).
			Set("disable-gpu").
			Set("disable-extensions").
			Set("disable-dev-shm-usage").
			Set("disable-blink-features", "AutomationControlled")
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		f.lnch = l
		log.Infof("🌐 Launched local Chrome at %s", wsURL)
	} else {
		log.Infof("🌐 Connecting to remote Chrome at %s", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if f.lnch != nil {
			f.lnch.Cleanup()
		}
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	f.browser = b

	return f, nil
}

func (f *rodFactory) Open(ctx context.Context) (Session, error) {
	f.mu.Lock()
	b := f.browser
	f.mu.Unlock()
	if b == nil {
		return nil, errors.New("browser: factory is closed")
	}

	incognito, err := b.Incognito()
	if err != nil {
		return nil, fmt.Errorf("browser: incognito context: %w", err)
	}

	var page *rod.Page
	if f.cfg.Stealth {
		page, err = stealth.Page(incognito)
	} else {
		page, err = incognito.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		incognito.Close()
		return nil, fmt.Errorf("browser: create page: %w", err)
	}

	return &rodSession{
		context:         incognito,
		page:            page,
		navigateTimeout: f.cfg.NavigateTimeout,
	}, nil
}

func (f *rodFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var err error
	if f.browser != nil {
		err = f.browser.Close()
		f.browser = nil
	}
	if f.lnch != nil {
		f.lnch.Cleanup()
		f.lnch = nil
	}
	return err
}

type rodSession struct {
	context         *rod.Browser
	page            *rod.Page
	navigateTimeout time.Duration
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx).Timeout(s.navigateTimeout)
	defer p.CancelTimeout()

	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, timeoutErr(err))
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("browser: wait load %s: %w", url, timeoutErr(err))
	}
	return nil
}

func (s *rodSession) WaitFor(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	p := s.page.Context(ctx).Timeout(timeout)
	defer p.CancelTimeout()

	el, err := p.Element(selector)
	if err != nil {
		return "", fmt.Errorf("%s: %w", selector, timeoutErr(err))
	}

	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("%s: read text: %w", selector, timeoutErr(err))
	}
	return strings.TrimSpace(text), nil
}

func (s *rodSession) Links(ctx context.Context, selector string) ([]Link, error) {
	elements, err := s.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: query %s: %w", selector, err)
	}

	links := make([]Link, 0, len(elements))
	for _, el := range elements {
		// The href property is already resolved against the document base.
		prop, err := el.Property("href")
		if err != nil {
			continue
		}
		href := prop.Str()
		if href == "" {
			continue
		}

		text, _ := el.Text()
		links = append(links, Link{Href: href, Text: strings.TrimSpace(text)})
	}

	return links, nil
}

func (s *rodSession) Click(ctx context.Context, sel Selector, timeout time.Duration) error {
	p := s.page.Context(ctx).Timeout(timeout)
	defer p.CancelTimeout()

	var (
		el  *rod.Element
		err error
	)
	if sel.Text != "" {
		el, err = p.ElementR(sel.CSS, "^\\s*"+regexp.QuoteMeta(sel.Text)+"\\s*$")
	} else {
		el, err = p.Element(sel.CSS)
	}
	if err != nil {
		return fmt.Errorf("browser: find %s: %w", sel, timeoutErr(err))
	}

	if err := el.ScrollIntoView(); err != nil {
		log.Debugf("browser: scroll %s into view: %v", sel, err)
	}

	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click %s: %w", sel, timeoutErr(err))
	}
	return nil
}

func (s *rodSession) Refresh(ctx context.Context) error {
	p := s.page.Context(ctx).Timeout(s.navigateTimeout)
	defer p.CancelTimeout()

	if err := p.Reload(); err != nil {
		return fmt.Errorf("browser: reload: %w", timeoutErr(err))
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("browser: wait load: %w", timeoutErr(err))
	}
	return nil
}

func (s *rodSession) Close() error {
	if s.page != nil {
		s.page.Close()
	}
	return s.context.Close()
}

// timeoutErr maps rod's context deadline into domain.ErrWaitTimeout.
func timeoutErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrWaitTimeout, err)
	}
	return err
}
