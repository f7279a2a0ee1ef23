package client

import (
	"errors"
	"net/http"
)

var (
	ErrAuthentication  = errors.New("client: authentication required")
	ErrNotLoggedIn     = errors.New("client: not logged in")
	ErrNotServerBound  = errors.New("client: database has no server binding")
	ErrLoginInProgress = errors.New("client: login already in progress")
	ErrMissingSession  = errors.New("client: login response carried no session id")
	ErrStopped         = errors.New("client: refresher stopped")
)

// LoginError wraps any login failure other than a rejected password.
type LoginError struct {
	Step string
	Err  error
}

func (e *LoginError) Error() string {
	return "client: login failed at " + e.Step + ": " + e.Err.Error()
}

func (e *LoginError) Unwrap() error { return e.Err }

type statusCoder interface {
	StatusCode() int
}

func isUnauthorized(err error) bool {
	var sc statusCoder
	return errors.As(err, &sc) && sc.StatusCode() == http.StatusUnauthorized
}

// isUpdateUnsupported reports a server that has no /update endpoint.
func isUpdateUnsupported(err error) bool {
	var sc statusCoder
	if !errors.As(err, &sc) {
		return false
	}
	return sc.StatusCode() == http.StatusNotFound || sc.StatusCode() == http.StatusNotImplemented
}
