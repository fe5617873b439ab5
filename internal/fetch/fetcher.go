// Package fetch retrieves URLs over plain HTTP using a Colly collector
// and turns page bodies into extracted text.
package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/pagevault/pagevault/internal/bot"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher implements bot.Fetcher on a Colly collector. Each Fetch clones
// the base collector, so one Fetcher is safe for concurrent workers.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher with a pooled transport shared across clones.
// Revisits stay allowed: the queue decides when a URL is fetched again
// (transient retries, new versions), and clones share the collector's
// visited-URL store.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	transport := newHTTPTransport()
	c.WithTransport(transport)
	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET. Responses with a 4xx or 5xx status
// surface as *bot.HTTPError so the caller can classify the failure.
func (f *Fetcher) Fetch(ctx context.Context, url string) (bot.FetchResponse, error) {
	var (
		result   bot.FetchResponse
		fetchErr error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)

	collector.OnResponse(func(r *colly.Response) {
		result = bot.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			MimeType:   mimeType(r.Headers.Get("Content-Type")),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= 400 {
			fetchErr = &bot.HTTPError{StatusCode: r.StatusCode, URL: url}
			if r.Headers != nil {
				result.Headers = r.Headers.Clone()
			}
			result.StatusCode = r.StatusCode
			return
		}
		fetchErr = err
	})

	visitErr := runCollector(ctx, collector, url)
	// OnError captures the richer form of any HTTP failure Visit also
	// reports, so it takes priority over Visit's flattened error string.
	if fetchErr != nil {
		return result, fetchErr
	}
	if visitErr != nil {
		return bot.FetchResponse{}, visitErr
	}
	return result, nil
}

// runCollector bridges colly's blocking Visit with context cancellation.
func runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit %s: %w", url, err)
		}
		return nil
	}
}

func mimeType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.TrimSpace(contentType)
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
