// Package fetcher downloads input datasets: administrative boundaries from
// the geoBoundaries API and population rasters over HTTP or FTP.
package fetcher

import (
	"context"
	"io"
	"net/url"

	"github.com/rotisserie/eris"
)

// Fetcher downloads remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path.
	// Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// ForURL returns a fetcher matching the URL scheme. WorldPop publishes
// rasters over both HTTP and FTP mirrors.
func ForURL(rawURL string, opts HTTPOptions) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %s", rawURL)
	}
	switch u.Scheme {
	case "http", "https":
		return NewHTTPFetcher(opts), nil
	case "ftp":
		return NewFTPFetcher(FTPOptions{Timeout: opts.Timeout}), nil
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
	}
}
