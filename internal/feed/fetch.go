// Package feed downloads and parses the event track document.
package feed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	appLog "traincommander/internal/log"
)

// ErrTransport wraps every failure to obtain a feed body, network or HTTP.
var ErrTransport = errors.New("feed: transport failure")

// FetchResult is the outcome of a successful fetch.
type FetchResult struct {
	Body      []byte
	FromCache bool // true if the body came from the disk cache (304 or fallback)
}

// cacheEntry holds HTTP cache metadata for the feed URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads the feed with HTTP caching (ETag / Last-Modified) and
// keeps the last good body on disk.
type Fetcher struct {
	url       string
	userAgent string
	client    *http.Client
	fs        afero.Fs
	cacheDir  string
}

// FetcherOption customizes a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the default 15s-timeout client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

// WithFs replaces the OS filesystem used for the cache.
func WithFs(fsys afero.Fs) FetcherOption {
	return func(f *Fetcher) { f.fs = fsys }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) { f.userAgent = ua }
}

// NewFetcher creates a Fetcher for url caching under cacheDir.
func NewFetcher(url, cacheDir string, opts ...FetcherOption) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/feed-cache"
	}
	f := &Fetcher{
		url:      url,
		client:   &http.Client{Timeout: 15 * time.Second},
		fs:       afero.NewOsFs(),
		cacheDir: cacheDir,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads the feed. On network errors or non-OK statuses the cached
// body is returned when one exists; otherwise the error wraps ErrTransport.
func (f *Fetcher) Fetch(ctx context.Context) (FetchResult, error) {
	if f.url == "" {
		return FetchResult{}, fmt.Errorf("%w: feed URL is empty", ErrTransport)
	}

	cachePath := f.cachePath()
	if err := f.fs.MkdirAll(cachePath, 0o700); err != nil {
		return FetchResult{}, err
	}

	meta, _ := f.loadCacheMeta(cachePath)
	cachedBody, _ := afero.ReadFile(f.fs, filepath.Join(cachePath, "body.json"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return FetchResult{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Info("feed fetch start", "url", f.url)

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			appLog.Error("feed fetch network error, using cached body", err, "url", f.url)
			return FetchResult{Body: cachedBody, FromCache: true}, nil
		}
		return FetchResult{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			if len(cachedBody) > 0 {
				appLog.Error("feed body read failed, using cached body", readErr, "url", f.url)
				return FetchResult{Body: cachedBody, FromCache: true}, nil
			}
			return FetchResult{}, fmt.Errorf("%w: %v", ErrTransport, readErr)
		}

		newMeta := cacheEntry{
			URL:          f.url,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := f.saveCache(cachePath, newMeta, body); err != nil {
			// Log but still return the freshly fetched body.
			appLog.Error("feed cache save failed", err, "url", f.url)
		}

		appLog.Info("feed fetch success", "url", f.url, "status", resp.StatusCode, "bytes", len(body))
		return FetchResult{Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, fmt.Errorf("%w: 304 Not Modified without cached body", ErrTransport)
		}
		appLog.Info("feed not modified; using cache", "url", f.url)
		return FetchResult{Body: cachedBody, FromCache: true}, nil

	default:
		if len(cachedBody) > 0 {
			appLog.Error("feed fetch non-OK, using cached body", errors.New(resp.Status), "url", f.url, "status", resp.StatusCode)
			return FetchResult{Body: cachedBody, FromCache: true}, nil
		}
		return FetchResult{}, fmt.Errorf("%w: %s", ErrTransport, resp.Status)
	}
}

// cachePath is keyed by the first 16 hex chars of the URL hash.
func (f *Fetcher) cachePath() string {
	sum := sha256.Sum256([]byte(f.url))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := afero.ReadFile(f.fs, filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at missing body.
	if err := afero.WriteFile(f.fs, filepath.Join(cachePath, "body.json"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return afero.WriteFile(f.fs, filepath.Join(cachePath, "meta.json"), data, 0o600)
}
