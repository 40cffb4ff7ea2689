package types

// Credentials holds the portal account login. Supplied once at startup and
// never mutated for the lifetime of a session.
type Credentials struct {
	Account  string
	Password string
}

// SessionToken is the structure the portal issues at login and expects back,
// serialized, in the token header of every subsequent request.
type SessionToken struct {
	UID       string `json:"uid"`
	Timestamp int64  `json:"timestamp"`
	Token     string `json:"token"`
	Client    string `json:"client"`
	Version   string `json:"version"`
	Language  string `json:"language"`
}

// EmptyToken returns the well-known unauthenticated token sent with the login
// request itself.
func EmptyToken() SessionToken {
	return SessionToken{
		Client:   "web",
		Language: "en",
	}
}
