package sems

// APIError is an application-level failure the portal reported inside an
// otherwise successful HTTP response. The message is the server's own text.
type APIError struct {
	Msg string
}

func (e *APIError) Error() string {
	if e.Msg == "" {
		return "portal error"
	}
	return "portal error: " + e.Msg
}

// AuthError is an APIError raised during login. The session token is cleared
// when one occurs so the next request logs in again.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// TransportError is a network or HTTP-level failure, potentially transient.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "request failed: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
