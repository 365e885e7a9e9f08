package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"climatology/harvester/internal/config"
	"climatology/harvester/internal/proxy"

	log "github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"
	"resty.dev/v3"
)

const partSuffix = ".part"

var (
	ErrCircuitOpen   = errors.New("circuit breaker is open")
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// StatusError is returned for non-2xx responses
type StatusError struct {
	URL    string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %s", e.URL, e.Status)
}

// Downloader copies one remote file to a local path.
type Downloader interface {
	// Transfer streams url into dest. The body is written to dest+".part" and renamed over dest
	// only once fully received, so dest never holds a truncated file.
	Transfer(ctx context.Context, url, dest string) error
	Close() error
}

type downloader struct {
	rl            ratelimit.Limiter
	httpClient    *resty.Client
	proxySupplier proxy.Supplier

	// Circuit breaker for quota exceeded
	circuitBreakerMutex sync.RWMutex
	quotaExceededUntil  time.Time
	circuitBreakerDelay time.Duration
}

func NewDownloader(cfg config.TransferConfig, proxySupplier proxy.Supplier) Downloader {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "*/*").
		SetTLSClientConfig(&tls.Config{
			InsecureSkipVerify: cfg.Insecure,
		})
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}

	if proxySupplier != nil {
		if proxyURL := proxySupplier.Get(); proxyURL != "" {
			client.SetProxy(proxyURL)
			log.Infof("🔗 Using initial proxy: %s", proxyURL)
		}
	}

	rl := ratelimit.NewUnlimited()
	if cfg.RequestsPerSecond > 0 {
		rl = ratelimit.New(cfg.RequestsPerSecond)
	}

	delay := cfg.CircuitBreakerDelay
	if delay <= 0 {
		delay = 30 * time.Minute
	}

	return &downloader{
		rl:                  rl,
		httpClient:          client,
		proxySupplier:       proxySupplier,
		circuitBreakerDelay: delay,
	}
}

func (d *downloader) Transfer(ctx context.Context, url, dest string) error {
	if d.isCircuitBreakerOpen() {
		remaining := d.getRemainingCircuitBreakerTime()
		return fmt.Errorf("%w: requests disabled for %v more", ErrCircuitOpen, remaining.Round(time.Second))
	}

	d.rl.Take()

	resp, err := d.get(ctx, url)
	if err != nil {
		return err
	}

	if resp.StatusCode() == http.StatusTooManyRequests {
		resp.Body.Close()
		log.Warnf("🚫 Rate limit exceeded for URL: %s", url)

		resp, err = d.retryWithNextProxy(ctx, url)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return &StatusError{URL: url, Code: resp.StatusCode(), Status: resp.Status()}
	}

	return writeAtomically(resp.Body, dest)
}

func (d *downloader) Close() error {
	return d.httpClient.Close()
}

func (d *downloader) get(ctx context.Context, url string) (*resty.Response, error) {
	resp, err := d.httpClient.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	return resp, nil
}

// retryWithNextProxy repeats a throttled request once through the next proxy; if that is not
// possible or is throttled too, the circuit breaker trips.
func (d *downloader) retryWithNextProxy(ctx context.Context, url string) (*resty.Response, error) {
	if d.proxySupplier != nil && d.proxySupplier.Len() > 1 {
		if next := d.proxySupplier.Get(); next != "" {
			log.Infof("🔄 Switching to new proxy: %s", next)
			d.httpClient.SetProxy(next)

			resp, err := d.get(ctx, url)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode() != http.StatusTooManyRequests {
				log.Infof("✅ Retry successful with new proxy")
				return resp, nil
			}
			resp.Body.Close()
		}
	}

	d.triggerCircuitBreaker()
	return nil, fmt.Errorf("%w: circuit breaker activated for %v", ErrQuotaExceeded, d.circuitBreakerDelay)
}

func (d *downloader) isCircuitBreakerOpen() bool {
	d.circuitBreakerMutex.RLock()
	now := time.Now()
	wasOpen := now.Before(d.quotaExceededUntil)
	wasTriggered := !d.quotaExceededUntil.IsZero()
	d.circuitBreakerMutex.RUnlock()

	if !wasOpen && wasTriggered {
		d.circuitBreakerMutex.Lock()
		// Double-check after acquiring write lock
		if !d.quotaExceededUntil.IsZero() && now.After(d.quotaExceededUntil) {
			d.quotaExceededUntil = time.Time{}
			log.Infof("✅ Circuit breaker automatically re-enabled - requests are now allowed")
		}
		d.circuitBreakerMutex.Unlock()
	}

	return wasOpen
}

func (d *downloader) triggerCircuitBreaker() {
	d.circuitBreakerMutex.Lock()
	defer d.circuitBreakerMutex.Unlock()

	d.quotaExceededUntil = time.Now().Add(d.circuitBreakerDelay)
	log.Warnf("🚫 Circuit breaker activated! All transfers disabled until %v",
		d.quotaExceededUntil.Format("15:04:05"))
}

func (d *downloader) getRemainingCircuitBreakerTime() time.Duration {
	d.circuitBreakerMutex.RLock()
	defer d.circuitBreakerMutex.RUnlock()

	remaining := time.Until(d.quotaExceededUntil)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func writeAtomically(body io.Reader, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dest, err)
	}

	part := dest + partSuffix
	f, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", part, err)
	}

	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(part)
		return fmt.Errorf("failed to write %s: %w", part, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(part)
		return fmt.Errorf("failed to close %s: %w", part, err)
	}

	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return fmt.Errorf("failed to move %s into place: %w", dest, err)
	}
	return nil
}

// PartPath returns the temporary path Transfer writes dest to.
func PartPath(dest string) string {
	return dest + partSuffix
}
