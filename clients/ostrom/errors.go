package ostrom

import "fmt"

// AuthError indicates rejected credentials or a token response that does not
// match the documented format (missing fields, wrong token type).
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ostrom auth: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("ostrom auth: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ConnectionError indicates a transport-level failure or an unexpected HTTP
// status from the pricing endpoint. Transient; the caller retries on its own
// schedule.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ostrom connection: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ostrom connection: %s", e.Op)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError indicates the upstream call exceeded its time bound.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("ostrom timeout: %s: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// EmptyResultError indicates a successful response envelope containing no
// price records. Distinct from transport failure: it usually means the
// provider has not published the requested window yet.
type EmptyResultError struct {
	Window string
}

func (e *EmptyResultError) Error() string {
	return fmt.Sprintf("ostrom: no price data for window %s", e.Window)
}
