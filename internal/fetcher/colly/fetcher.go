// Package collyfetcher implements crawler.Transport using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/clinic-crawler/internal/crawler"
)

const defaultTimeout = 10 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher performs single-attempt GETs through a Colly collector.
type Fetcher struct {
	transport     *http.Transport
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// attempt collects what the collector callbacks observed for one visit.
type attempt struct {
	status  int
	body    []byte
	hookErr error
	errored bool
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	// Retries revisit the same URL and clones share the visited store.
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	transport := newHTTPTransport()
	c.WithTransport(transport)
	// Clones share the backend http.Client, so the timeout is set only here.
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	c.SetRequestTimeout(timeout)

	return &Fetcher{
		transport:     transport,
		baseCollector: c,
	}
}

// Get executes one HTTP GET and classifies the result. Network errors,
// timeouts, and non-2xx statuses are retryable; malformed URLs and
// cancellation are terminal.
func (f *Fetcher) Get(ctx context.Context, url string) crawler.FetchOutcome {
	if err := ctx.Err(); err != nil {
		return crawler.TerminalFailure(url, 0, fmt.Errorf("colly fetch canceled: %w", err))
	}
	var result attempt
	collector := f.buildCollector(ctx, &result)
	visitErr := f.runCollector(ctx, collector, url)
	return classify(ctx, url, result, visitErr)
}

// Close releases idle keep-alive connections.
func (f *Fetcher) Close() {
	f.transport.CloseIdleConnections()
}

func (f *Fetcher) buildCollector(ctx context.Context, result *attempt) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx

	f.configureCollectorHooks(collector, result)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *attempt) {
	hooks.OnResponse(func(r *colly.Response) {
		result.status = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		result.errored = true
		result.hookErr = err
		if r != nil {
			result.status = r.StatusCode
		}
	})
}

// runCollector blocks until the visit and its callbacks have finished. The
// request carries ctx, so cancellation ends the visit early.
func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	if err := collector.Visit(url); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("colly fetch canceled: %w", ctxErr)
		}
		return fmt.Errorf("colly visit failed: %w", err)
	}
	return nil
}

func classify(ctx context.Context, url string, result attempt, visitErr error) crawler.FetchOutcome {
	if err := ctx.Err(); err != nil {
		return crawler.TerminalFailure(url, 0, fmt.Errorf("colly fetch canceled: %w", err))
	}
	switch {
	case result.errored:
		reason := result.hookErr
		if reason == nil {
			reason = visitErr
		}
		if errors.Is(reason, context.Canceled) {
			return crawler.TerminalFailure(url, result.status, reason)
		}
		return crawler.RetryableFailure(url, result.status, fmt.Errorf("colly response failed: %w", reason))
	case visitErr != nil:
		// Colly rejects the URL before any request is sent.
		return crawler.TerminalFailure(url, 0, visitErr)
	case result.status < 200 || result.status > 299:
		return crawler.RetryableFailure(url, result.status,
			fmt.Errorf("unexpected status %d %s", result.status, http.StatusText(result.status)))
	default:
		return crawler.Success(url, result.status, result.body)
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
