// Package fetcher retrieves remote workbook sources over HTTP and FTP.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/finreview-cli/internal/config"
)

// Fetcher downloads a remote source.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path.
	// Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Registry dispatches URLs to the right fetcher by scheme.
type Registry struct {
	http *HTTPFetcher
	ftp  *FTPFetcher
}

// NewRegistry builds a Registry from fetch configuration.
func NewRegistry(cfg config.FetchConfig) *Registry {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	return &Registry{
		http: NewHTTPFetcher(HTTPOptions{
			UserAgent:      cfg.UserAgent,
			Timeout:        timeout,
			MaxRetries:     cfg.MaxRetries,
			RequestsPerSec: cfg.RequestsPerSec,
		}),
		ftp: NewFTPFetcher(FTPOptions{Timeout: timeout}),
	}
}

// ForURL returns the fetcher handling the URL's scheme.
func (r *Registry) ForURL(rawURL string) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %s", rawURL)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return r.http, nil
	case "ftp":
		return r.ftp, nil
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme %q in %s", u.Scheme, rawURL)
	}
}

// Stage downloads the URL into dir under its remote base name and returns
// the local path.
func (r *Registry) Stage(ctx context.Context, rawURL, dir string) (string, error) {
	f, err := r.ForURL(rawURL)
	if err != nil {
		return "", err
	}

	name, err := baseName(rawURL)
	if err != nil {
		return "", err
	}

	local := filepath.Join(dir, name)
	if _, err := f.DownloadToFile(ctx, rawURL, local); err != nil {
		return "", eris.Wrapf(err, "fetcher: stage %s", rawURL)
	}
	return local, nil
}

func baseName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: parse url %s", rawURL)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", eris.Errorf("fetcher: cannot derive file name from %s", rawURL)
	}
	return name, nil
}
