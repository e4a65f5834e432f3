package auth

// Principal is the identity a request runs under. The zero value is the
// anonymous principal.
type Principal struct {
	UUID          string
	Login         string
	Authenticated bool
}

// Anonymous returns the unauthenticated principal.
func Anonymous() Principal {
	return Principal{}
}

// NewPrincipal constructs an authenticated principal.
func NewPrincipal(uuid, login string) Principal {
	return Principal{UUID: uuid, Login: login, Authenticated: true}
}
