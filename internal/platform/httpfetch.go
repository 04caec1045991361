package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/waqarahm3d/qoqnuzmedia/internal/entity"
	"github.com/waqarahm3d/qoqnuzmedia/internal/observability"
)

// HTTPFetcher fetches media over plain HTTP(S). It serves as the reference
// Fetcher implementation; platform-specific extractors wrap or replace it.
type HTTPFetcher struct {
	client  *http.Client
	hosts   []string
	logger  observability.Logger
	metrics observability.Metrics
}

// NewHTTPFetcher builds a fetcher that accepts URLs on the given hosts. An
// empty host list accepts any host.
func NewHTTPFetcher(hosts []string, logger observability.Logger, metrics observability.Metrics) *HTTPFetcher {
	return &HTTPFetcher{
		client:  &http.Client{Timeout: 0}, // deadlines come from the caller's context
		hosts:   hosts,
		logger:  logger.WithFields(map[string]interface{}{"component": "http_fetcher"}),
		metrics: metrics,
	}
}

func (f *HTTPFetcher) Validate(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}
	if len(f.hosts) == 0 {
		return true
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	for _, h := range f.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func (f *HTTPFetcher) ExtractInfo(ctx context.Context, rawURL string, _ entity.SelectionMode) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, entity.NewFetchError("metadata probe failed", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, entity.NewFetchError(
			fmt.Sprintf("metadata probe returned status %d", resp.StatusCode), nil)
	}

	return &Metadata{
		Title:     titleFromURL(rawURL),
		ItemCount: 1,
	}, nil
}

// Fetch downloads the single item behind the URL into destDir and reports
// byte-level progress when the server announces a content length.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL, destDir string, _ entity.SelectionMode, progress ProgressFunc) ([]FetchResult, error) {
	start := time.Now()
	f.metrics.StartOperation("fetch")
	defer f.metrics.EndOperation("fetch")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.metrics.RecordError("fetch", "request_failed")
		return nil, entity.NewFetchError("fetch request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		f.metrics.RecordError("fetch", "bad_status")
		return nil, entity.NewFetchError(
			fmt.Sprintf("fetch returned status %d", resp.StatusCode), nil)
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create destination dir: %w", err)
	}

	name := path.Base(req.URL.Path)
	if name == "" || name == "/" || name == "." {
		name = uuid.NewString()
	}
	destPath := filepath.Join(destDir, name)

	out, err := os.Create(destPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	written, err := copyWithProgress(ctx, out, resp.Body, resp.ContentLength, progress)
	if err != nil {
		os.Remove(destPath)
		f.metrics.RecordError("fetch", "transfer_failed")
		return nil, entity.NewFetchError("fetch transfer failed", err)
	}

	f.logger.Info("item fetched", "url", rawURL, "bytes", written)
	f.metrics.RecordSuccess("fetch")
	f.metrics.RecordDuration("fetch", time.Since(start).Seconds())
	f.metrics.RecordFileSize("fetched", written)

	return []FetchResult{{
		SourceID:  name,
		SourceURL: rawURL,
		FilePath:  destPath,
		Title:     titleFromURL(rawURL),
		SizeBytes: written,
	}}, nil
}

// copyWithProgress streams src into dst, honouring context cancellation
// between chunks and reporting percent when total is known.
func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, total int64, progress ProgressFunc) (int64, error) {
	buf := make([]byte, 256*1024)
	var written int64
	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, err
			}
			written += int64(n)
			if progress != nil && total > 0 {
				progress(float64(written) / float64(total) * 100)
			}
		}
		if readErr == io.EOF {
			if progress != nil {
				progress(100)
			}
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

func titleFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	base := path.Base(u.Path)
	if base == "" || base == "/" || base == "." {
		return u.Hostname()
	}
	return strings.TrimSuffix(base, path.Ext(base))
}
