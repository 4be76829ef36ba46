package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	apiTypeFetch   = "fetch"
	apiTypePreview = "preview"
)

// Client interface for testability
type Client interface {
	SyncItems(ctx context.Context, languageCode string, syncToken int64, pageSize int) (*SyncItemsResponse, error)
	SyncPages(ctx context.Context, languageCode string, syncToken int64, pageSize int) (*SyncPagesResponse, error)
	GetSitemapFlat(ctx context.Context, channelName, languageCode string) (Sitemap, error)
}

type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	guid       string
	apiKey     string
	apiType    string
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	logger     *zap.Logger
}

type Options struct {
	BaseURL    string
	GUID       string
	APIKey     string
	Preview    bool
	RatePerSec int
	Timeout    time.Duration
	RetryDelay time.Duration
	RetryCount int
}

func NewClient(opts Options, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:       100,
		MaxConnsPerHost:    10,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: false,
	}

	apiType := apiTypeFetch
	if opts.Preview {
		apiType = apiTypePreview
	}

	ratePerSec := opts.RatePerSec
	if ratePerSec < 1 {
		ratePerSec = 1
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		guid:       opts.GUID,
		apiKey:     opts.APIKey,
		apiType:    apiType,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		retryCount: opts.RetryCount,
		retryDelay: opts.RetryDelay,
		logger:     logger,
	}
}

func (c *HTTPClient) SyncItems(ctx context.Context, languageCode string, syncToken int64, pageSize int) (*SyncItemsResponse, error) {
	var resp SyncItemsResponse
	if err := c.getJSON(ctx, c.localePath(languageCode, "sync", "items"), syncQuery(syncToken, pageSize), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) SyncPages(ctx context.Context, languageCode string, syncToken int64, pageSize int) (*SyncPagesResponse, error) {
	var resp SyncPagesResponse
	if err := c.getJSON(ctx, c.localePath(languageCode, "sync", "pages"), syncQuery(syncToken, pageSize), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) GetSitemapFlat(ctx context.Context, channelName, languageCode string) (Sitemap, error) {
	sitemap := Sitemap{}
	if err := c.getJSON(ctx, c.localePath(languageCode, "sitemap", "flat", channelName), nil, &sitemap); err != nil {
		return nil, err
	}
	return sitemap, nil
}

func (c *HTTPClient) localePath(languageCode string, segments ...string) string {
	parts := []string{c.guid, c.apiType, languageCode}
	for _, s := range segments {
		parts = append(parts, url.PathEscape(s))
	}
	return "/" + strings.Join(parts, "/")
}

func syncQuery(syncToken int64, pageSize int) url.Values {
	q := url.Values{}
	q.Set("syncToken", strconv.FormatInt(syncToken, 10))
	if pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(pageSize))
	}
	return q
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	c.logger.Debug("requesting", zap.String("url", endpoint))

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1)) // Exponential backoff
			c.logger.Debug("retrying request", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("APIKey", c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		// Read body before closing for error messages
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return ErrNotFound
		case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
			return ErrAuthFailed
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = ErrRateLimited
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
