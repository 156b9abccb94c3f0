package postgrest

import "fmt"

// TransportError reports a request that produced no response: an unusable
// URL, an unencodable body, a refused connection or a timeout.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("postgrest: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
