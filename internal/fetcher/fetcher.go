// Package fetcher retrieves raw tabular and geometry payloads from HTTP or
// local sources and streams CSV rows out of them.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Fetcher defines the interface for retrieving a raw data file.
type Fetcher interface {
	// Download fetches the source and returns its body. The caller closes it.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// FetchError reports a failed retrieval. Status is the HTTP status code, or
// zero when the request never produced a response.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s: failed", e.URL)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// AsFetchError returns the FetchError in err's chain, if any.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// FetchAll downloads and fully reads the source. Any failure is reported as a
// *FetchError so callers see one uniform transport error type.
func FetchAll(ctx context.Context, f Fetcher, url string) ([]byte, error) {
	body, err := f.Download(ctx, url)
	if err != nil {
		if _, ok := AsFetchError(err); ok {
			return nil, err
		}
		return nil, &FetchError{URL: url, Err: err}
	}
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	return data, nil
}
