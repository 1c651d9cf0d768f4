package webcontent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

var ErrFetchFailed = errors.New("web content fetch failed")

type FetcherConfig struct {
	Timeout    time.Duration
	MaxBytes   int64
	UserAgent  string
	HTTPClient *http.Client
}

// Fetcher downloads a prospect's website for context-building. Every fetch
// carries its own timeout; a slow site must not hold a worker slot hostage.
type Fetcher struct {
	timeout    time.Duration
	maxBytes   int64
	userAgent  string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

func NewFetcher(cfg FetcherConfig, logger *zap.SugaredLogger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 6 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 512 * 1024
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "prospectia-enrichment/1.0"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Fetcher{
		timeout:    cfg.Timeout,
		maxBytes:   cfg.MaxBytes,
		userAgent:  cfg.UserAgent,
		httpClient: cfg.HTTPClient,
		logger:     logger,
	}
}

// FetchPage returns the raw HTML of a page, bounded in time and size.
func (f *Fetcher) FetchPage(ctx context.Context, pageURL string) (string, error) {
	url := strings.TrimSpace(pageURL)
	if url == "" {
		return "", fmt.Errorf("%w: empty url", ErrFetchFailed)
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	request.Header.Set("User-Agent", f.userAgent)
	request.Header.Set("Accept", "text/html,application/xhtml+xml")

	response, err := f.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d for %s", ErrFetchFailed, response.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, f.maxBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrFetchFailed, err)
	}
	return string(body), nil
}
