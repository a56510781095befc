package rss

import (
	"context"
	"net/url"
	"sync"
	"time"
)

// MaxConcurrencyPerDomain limits parallel requests to any single domain
const MaxConcurrencyPerDomain = 2

// hostSlots is the politeness state kept for one host.
type hostSlots struct {
	sem  chan struct{}
	last time.Time
}

// domainLimiter caps concurrent requests per host and spaces consecutive
// requests to the same host by at least delay.
type domainLimiter struct {
	perDomain int
	delay     time.Duration

	mu    sync.Mutex
	hosts map[string]*hostSlots
}

func newDomainLimiter(perDomain int, delay time.Duration) *domainLimiter {
	if perDomain <= 0 {
		perDomain = MaxConcurrencyPerDomain
	}
	return &domainLimiter{
		perDomain: perDomain,
		delay:     delay,
		hosts:     make(map[string]*hostSlots),
	}
}

func (dl *domainLimiter) slots(domain string) *hostSlots {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	h, ok := dl.hosts[domain]
	if !ok {
		h = &hostSlots{sem: make(chan struct{}, dl.perDomain)}
		dl.hosts[domain] = h
	}
	return h
}

// acquire blocks until a request to domain may start. The returned func
// must be called once the request is done.
func (dl *domainLimiter) acquire(ctx context.Context, domain string) (func(), error) {
	h := dl.slots(domain)

	select {
	case h.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var wait time.Duration
	dl.mu.Lock()
	if !h.last.IsZero() {
		wait = dl.delay - time.Since(h.last)
	}
	dl.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			<-h.sem
			return nil, ctx.Err()
		}
	}

	return func() {
		dl.mu.Lock()
		h.last = time.Now()
		dl.mu.Unlock()
		<-h.sem
	}, nil
}

// extractDomain gets the host from a URL.
func extractDomain(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Host == "" {
		return feedURL // fallback to full URL
	}
	return u.Host
}
