package caldav

import "errors"

// Error taxonomy. Discovery and fetch failures are isolated per calendar;
// write failures surface synchronously to the caller.
var (
	// ErrInvalidConfiguration means the profile input is unusable; fatal
	// to the request.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrAuthentication maps 401/403; surfaced to the user for re-login.
	ErrAuthentication = errors.New("authentication failed")

	// ErrServerUnavailable maps network errors, timeouts and 5xx. It is
	// the only retryable class.
	ErrServerUnavailable = errors.New("server unavailable")

	// ErrUnsupportedServer means the response could not be parsed as a
	// calendar collection; fatal for that calendar, others continue.
	ErrUnsupportedServer = errors.New("unsupported server response")

	// ErrMalformedObject marks a single unparseable event or an
	// inconsistent exception set; the object is skipped, the calendar
	// fetch continues.
	ErrMalformedObject = errors.New("malformed calendar object")

	// ErrValidation rejects a write before it reaches the server.
	ErrValidation = errors.New("validation failed")

	// ErrWriteConflict means the held etag is stale; the caller must
	// re-fetch before retrying. Never retried automatically.
	ErrWriteConflict = errors.New("write conflict")

	// ErrNotFound means the object or collection does not exist.
	ErrNotFound = errors.New("not found")
)

// IsRetryable reports whether the error class may be retried at the
// transport boundary. 4xx-derived errors are never retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServerUnavailable)
}
