package gateway

import "fmt"

// KeyDerivationError is returned by Process when no cache key can be derived
// for a request. The backend is not invoked.
type KeyDerivationError struct {
	Route string
	Err   error
}

// Error implements the error interface.
func (e *KeyDerivationError) Error() string {
	return fmt.Sprintf("derive cache key for route %q: %v", e.Route, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *KeyDerivationError) Unwrap() error {
	return e.Err
}
