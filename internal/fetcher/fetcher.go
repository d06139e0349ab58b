// Package fetcher loads indicator tables from local files and from remote
// HTTP and FTP sources. CSV, XLSX, JSON, zone shapefiles and ZIP archives
// holding any of those are understood.
package fetcher

import (
	"context"
	"io"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}
