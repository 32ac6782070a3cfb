package hosting

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/containerd/errdefs"
	"github.com/google/go-github/v48/github"
)

// ErrMergeConflict reports that the hosting API refused to merge because the
// branches are in an unmergeable state. It is surfaced verbatim to callers;
// no automatic resolution is attempted.
var ErrMergeConflict = fmt.Errorf("branches are not mergeable: %w", errdefs.ErrConflict)

// IsNotFound reports absence (404). Absence is never fatal; callers receive
// it as a nil result, not as this error, except where noted.
func IsNotFound(err error) bool {
	return errors.Is(err, errdefs.ErrNotFound)
}

// IsConflict reports a sha-mismatch rejection on write. The caller must
// re-read the file and retry; this client never retries on its own.
func IsConflict(err error) bool {
	return errors.Is(err, errdefs.ErrConflict)
}

// IsMergeConflict reports an unmergeable publish.
func IsMergeConflict(err error) bool {
	return errors.Is(err, ErrMergeConflict)
}

// IsAuth reports a 401/403. Not retryable without a new credential.
func IsAuth(err error) bool {
	return errors.Is(err, errdefs.ErrUnauthenticated) || errors.Is(err, errdefs.ErrPermissionDenied)
}

// IsTransport reports a network-level failure. Fatal to the call, retryable
// by the caller.
func IsTransport(err error) bool {
	return errors.Is(err, errdefs.ErrUnavailable)
}

// classify maps a go-github error to the taxonomy. A nil response means the
// request never reached the API (transport failure).
func classify(resp *github.Response, err error, op string) error {
	if err == nil {
		return nil
	}
	if resp == nil {
		return fmt.Errorf("%s: %v: %w", op, err, errdefs.ErrUnavailable)
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, errdefs.ErrNotFound)
	case http.StatusUnauthorized:
		return fmt.Errorf("%s: %v: %w", op, err, errdefs.ErrUnauthenticated)
	case http.StatusForbidden:
		return fmt.Errorf("%s: %v: %w", op, err, errdefs.ErrPermissionDenied)
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return fmt.Errorf("%s: %v: %w", op, err, errdefs.ErrConflict)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
