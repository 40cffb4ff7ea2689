package types

// Site is one physical installation under an account. The portal's
// enumeration endpoint returns these in several different shapes so the ID is
// always normalized to a string and any inline detail fields are kept as-is.
type Site struct {
	ID    string
	Extra map[string]interface{}
}
