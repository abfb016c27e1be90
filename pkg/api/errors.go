package api

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoAPIKey is returned when no credentials could be found.
	ErrNoAPIKey = errors.New("no API key configured, run `shodan-ng init <key>` first")

	// ErrUnsupported is returned by backends for operations they can't serve.
	ErrUnsupported = errors.New("operation not supported by this provider")

	// ErrFeedClosed is returned by Feed.Next once the server ended the stream.
	ErrFeedClosed = errors.New("feed closed by server")
)

// Error is an error reported by the remote service.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote error: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("remote error: %s", e.Message)
}

// IsPermanent reports whether retrying the request is pointless (bad key, forbidden, unknown
// resource, malformed request).
func IsPermanent(err error) bool {
	var ae *Error
	if !errors.As(err, &ae) {
		return errors.Is(err, ErrNoAPIKey) || errors.Is(err, ErrUnsupported)
	}

	switch ae.Status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

// Unsupported wraps ErrUnsupported with the operation name.
func Unsupported(provider, op string) error {
	return fmt.Errorf("%s: %s: %w", provider, op, ErrUnsupported)
}
