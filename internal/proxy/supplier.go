package proxy

import (
	"context"
	"crypto/tls"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"resty.dev/v3"
)

const probeConcurrency = 50

// Supplier hands out proxy URLs in round-robin order. Get returns "" when the pool is empty.
type Supplier interface {
	Get() string
	Len() int
}

type supplier struct {
	proxies []string
	current int
	mutex   sync.Mutex
}

// NewSupplier builds a Supplier from proxies. When testURL is set every proxy is probed with a
// GET through it first and only the working ones are kept.
func NewSupplier(ctx context.Context, proxies []string, testURL string) Supplier {
	if len(proxies) == 0 || testURL == "" {
		return &supplier{proxies: append([]string(nil), proxies...)}
	}

	log.Infof("🔄 Probing %d proxies against %s...", len(proxies), testURL)

	semaphore := make(chan struct{}, probeConcurrency)
	working := make(chan string, len(proxies))

	var wg sync.WaitGroup
	for _, proxyURL := range proxies {
		wg.Add(1)

		go func(proxyURL string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if probe(ctx, proxyURL, testURL) {
				working <- proxyURL
				log.Debugf("✅ Proxy %s is working", proxyURL)
			} else {
				log.Infof("❌ Proxy %s is not working, skipping", proxyURL)
			}
		}(proxyURL)
	}

	wg.Wait()
	close(working)

	valid := make([]string, 0, len(proxies))
	for p := range working {
		valid = append(valid, p)
	}
	sort.Strings(valid)

	log.Infof("✅ Proxy pool ready with %d working proxies out of %d", len(valid), len(proxies))

	return &supplier{proxies: valid}
}

func (s *supplier) Get() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if len(s.proxies) == 0 {
		return ""
	}

	p := s.proxies[s.current]
	s.current = (s.current + 1) % len(s.proxies)

	return p
}

func (s *supplier) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.proxies)
}

func probe(ctx context.Context, proxyURL, testURL string) bool {
	client := resty.New().
		SetTimeout(5 * time.Second).
		SetRetryCount(0).
		SetProxy(proxyURL).
		SetTLSClientConfig(&tls.Config{
			InsecureSkipVerify: true,
		})
	defer client.Close()

	resp, err := client.R().
		SetContext(ctx).
		Get(testURL)

	if err != nil {
		log.Debugf("Proxy probe failed for %s: %v", proxyURL, err)
		return false
	}

	if resp.IsError() {
		log.Debugf("Proxy probe failed for %s with status: %s", proxyURL, resp.Status())
		return false
	}

	return true
}
