package model

// Credentials authenticate against a private repository host. A nil
// *Credentials means anonymous access.
type Credentials struct {
	Username string
	Token    string
}
