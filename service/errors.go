package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/hisabimbola/ostrom-bridge/clients/ostrom"
)

// FailureKind classifies why a refresh cycle failed.
type FailureKind string

const (
	KindAuth               FailureKind = "auth"
	KindConnection         FailureKind = "connection"
	KindTimeout            FailureKind = "timeout"
	KindEmptyResult        FailureKind = "empty_result"
	KindMissingCurrentHour FailureKind = "missing_current_hour"
)

// RefreshError is the single failure type reported at the coordinator
// boundary. It carries the originating kind so the host can distinguish an
// authentication problem from a transient fetch failure.
type RefreshError struct {
	Kind FailureKind
	Err  error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh failed (%s): %v", e.Kind, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// MissingCurrentHourError means price data exists for today but the exact
// current-hour slot is absent: an upstream gap or a local clock/timezone
// misconfiguration. Never substituted with a nearest match.
type MissingCurrentHourError struct {
	Hour time.Time
}

func (e *MissingCurrentHourError) Error() string {
	return fmt.Sprintf("no price entry for current hour %s", e.Hour.Format(time.RFC3339))
}

// NotFoundError means no price entries exist for a requested date.
type NotFoundError struct {
	Date time.Time
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no prices found for date %s", e.Date.Format("2006-01-02"))
}

// wrapRefreshFailure classifies err and wraps it into a RefreshError.
func wrapRefreshFailure(err error) *RefreshError {
	var re *RefreshError
	if errors.As(err, &re) {
		return re
	}
	return &RefreshError{Kind: classifyFailure(err), Err: err}
}

func classifyFailure(err error) FailureKind {
	var (
		authErr    *ostrom.AuthError
		timeoutErr *ostrom.TimeoutError
		emptyErr   *ostrom.EmptyResultError
		missingErr *MissingCurrentHourError
	)
	switch {
	case errors.As(err, &authErr):
		return KindAuth
	case errors.As(err, &timeoutErr):
		return KindTimeout
	case errors.As(err, &emptyErr):
		return KindEmptyResult
	case errors.As(err, &missingErr):
		return KindMissingCurrentHour
	default:
		return KindConnection
	}
}
