package workshop

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork matches any *NetworkError.
	ErrNetwork = errors.New("persistence gateway request failed")
	// ErrUncertainWrite matches a *NetworkError whose write may have been
	// applied by the service even though no response arrived.
	ErrUncertainWrite = errors.New("persistence gateway write outcome unknown")
)

const genericNetworkMessage = "the persistence service could not complete the request"

// NetworkError wraps a failed call to the persistence gateway. Message holds
// the server-provided explanation when there is one. Uncertain is set on
// writes that failed before a response arrived.
type NetworkError struct {
	Op        string
	Status    int
	Message   string
	Err       error
	Uncertain bool
}

func (e *NetworkError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = genericNetworkMessage
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// UserMessage is safe to show to an operator.
func (e *NetworkError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return genericNetworkMessage
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrNetwork) match, and ErrUncertainWrite when the
// write outcome is unknown.
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork || (e.Uncertain && target == ErrUncertainWrite)
}
