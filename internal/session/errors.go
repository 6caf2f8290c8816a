package session

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vmt-browser/internal/dataset"
)

// Selection kinds reported by InvalidSelection.
const (
	KindMunicipality = "municipality"
	KindTheme        = "theme"
	KindYear         = "year"
)

// InvalidSelection rejects a municipality, theme, or year that is not in its
// registry or the loaded dataset. State is left unchanged.
type InvalidSelection struct {
	Kind   string
	Value  string
	Reason string
}

func (e *InvalidSelection) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Kind, e.Value, e.Reason)
}

// DataNotReady rejects a selection the loaded data cannot serve yet: either
// the session is not Ready, or Year is configured but not loaded.
type DataNotReady struct {
	Year   dataset.Year
	Status Status
}

func (e *DataNotReady) Error() string {
	if e.Year != 0 {
		return fmt.Sprintf("data for %d is not loaded", e.Year)
	}
	return fmt.Sprintf("data not ready (status %s)", e.Status)
}

// ErrSuperseded is returned to a year request whose result arrived after a
// newer year change. The stale result is discarded.
var ErrSuperseded = eris.New("session: superseded by a newer year change")

// ErrStopped is returned when the event loop is no longer running.
var ErrStopped = eris.New("session: event loop stopped")

// ErrAlreadyInitialized is returned by Initialize outside the Uninitialized
// and Error states.
var ErrAlreadyInitialized = eris.New("session: already initialized")

// IsInvalidSelection reports whether err carries an InvalidSelection.
func IsInvalidSelection(err error) bool {
	var e *InvalidSelection
	return errors.As(err, &e)
}

// IsDataNotReady reports whether err carries a DataNotReady.
func IsDataNotReady(err error) bool {
	var e *DataNotReady
	return errors.As(err, &e)
}
