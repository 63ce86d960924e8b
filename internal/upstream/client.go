// Package upstream fetches the published notice list from the PSC notice feed.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/loksewa/noticemirror/internal/metrics"
	"github.com/loksewa/noticemirror/internal/notice"
)

// Config controls collector behavior.
type Config struct {
	URL       string
	UserAgent string
	Timeout   time.Duration
}

// Client implements notice.Fetcher using the Colly collector.
type Client struct {
	cfg           Config
	logger        *zap.Logger
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

var _ notice.Fetcher = (*Client)(nil)

// New builds a Client. The feed URL is fetched on every call, so revisits are allowed.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	if cfg.Timeout > 0 {
		c.SetRequestTimeout(cfg.Timeout)
	}
	return &Client{
		cfg:           cfg,
		logger:        logger,
		baseCollector: c,
	}
}

// Fetch performs one GET against the feed and decodes the notice array.
// Failures wrap notice.ErrUpstreamUnavailable.
func (c *Client) Fetch(ctx context.Context) ([]notice.Notice, error) {
	start := time.Now()
	notices, err := c.fetch(ctx)
	if err != nil {
		metrics.ObserveUpstreamFetch(metrics.OutcomeError, time.Since(start))
		c.logger.Warn("upstream fetch failed", zap.String("url", c.cfg.URL), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", notice.ErrUpstreamUnavailable, err)
	}
	metrics.ObserveUpstreamFetch(metrics.OutcomeSuccess, time.Since(start))
	c.logger.Debug("upstream fetch complete",
		zap.Int("notices", len(notices)),
		zap.Duration("duration", time.Since(start)),
	)
	return notices, nil
}

func (c *Client) fetch(ctx context.Context) ([]notice.Notice, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetch canceled: %w", err)
	}
	var (
		body     []byte
		fetchErr error
	)
	collector := c.buildCollector(&body, &fetchErr)
	if err := runCollector(ctx, collector, c.cfg.URL, &fetchErr); err != nil {
		return nil, err
	}
	return decodeNotices(body)
}

func (c *Client) buildCollector(body *[]byte, fetchErr *error) *colly.Collector {
	collector := c.baseCollector.Clone()
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	configureCollectorHooks(collector, body, fetchErr)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, body *[]byte, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
	})

	hooks.OnResponse(func(r *colly.Response) {
		*body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("visit failed: %w", err)
		}
		return nil
	}
}

// decodeNotices accepts only a JSON array of notice objects; null, scalars and
// non-object elements are rejected. Upstream ids are dropped since ids belong
// to the mirror.
func decodeNotices(body []byte) ([]notice.Notice, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("decode notices: expected a JSON array, got %s", preview(trimmed))
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("decode notices: %w", err)
	}
	notices := make([]notice.Notice, 0, len(items))
	for i, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 || item[0] != '{' {
			return nil, fmt.Errorf("decode notices: element %d is not an object", i)
		}
		var n notice.Notice
		if err := json.Unmarshal(item, &n); err != nil {
			return nil, fmt.Errorf("decode notices: element %d: %w", i, err)
		}
		n.ID = 0
		notices = append(notices, n)
	}
	return notices, nil
}

func preview(body []byte) string {
	const limit = 32
	if len(body) == 0 {
		return "empty body"
	}
	if len(body) > limit {
		return fmt.Sprintf("%q...", body[:limit])
	}
	return fmt.Sprintf("%q", body)
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
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
