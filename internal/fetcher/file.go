package fetcher

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// FileFetcher serves sources from the local filesystem. Relative paths are
// resolved against Root; "file://" prefixes are stripped.
type FileFetcher struct {
	Root string
}

// Download opens the file. A missing file is reported with status 404 so
// callers treat it like an HTTP miss.
func (f FileFetcher) Download(ctx context.Context, src string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{URL: src, Err: err}
	}
	path := strings.TrimPrefix(src, "file://")
	if !filepath.IsAbs(path) && f.Root != "" {
		path = filepath.Join(f.Root, path)
	}

	fh, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &FetchError{URL: src, Status: http.StatusNotFound, Err: err}
		}
		return nil, &FetchError{URL: src, Err: err}
	}
	return fh, nil
}

// SchemeFetcher routes http(s) URLs to HTTP and everything else to Local.
type SchemeFetcher struct {
	HTTP  Fetcher
	Local Fetcher
}

// Download dispatches on the URL scheme.
func (s SchemeFetcher) Download(ctx context.Context, src string) (io.ReadCloser, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		if s.HTTP == nil {
			return nil, &FetchError{URL: src, Err: errors.New("no http fetcher configured")}
		}
		return s.HTTP.Download(ctx, src)
	}
	if s.Local == nil {
		return nil, &FetchError{URL: src, Err: errors.New("no local fetcher configured")}
	}
	return s.Local.Download(ctx, src)
}
