package auth

import (
	"errors"
	"fmt"
)

// ErrNilClient is returned when a bridge is requested for a client that does not exist.
var ErrNilClient = errors.New("client must not be nil")

// ErrTokenDeclined is returned by BridgeCredential when the bridge has no token for the requested resource.
var ErrTokenDeclined = errors.New("credential bridge declined to supply a token for the requested resource")

// IncompatibleAuthModelError indicates two clients cannot share a session because at least one
// of them does not authenticate with bearer tokens.
type IncompatibleAuthModelError struct {
	Source AuthType
	Target AuthType
}

func (e *IncompatibleAuthModelError) Error() string {
	return fmt.Sprintf(
		"cannot share a '%s' session with a '%s' client, both clients must use token based authentication",
		e.Source,
		e.Target,
	)
}
