// Package bridgeerrors defines the tagged error kinds used across the bridge,
// replacing the exception-driven control flow of the original source with a
// typed result carried via ordinary Go error returns.
package bridgeerrors

import "fmt"

// Kind enumerates the error categories from the bridge's error handling design.
type Kind string

const (
	Configuration    Kind = "configuration"
	Conversion       Kind = "conversion"
	TransportRead    Kind = "transport_read"
	TransportWrite   Kind = "transport_write"
	TransportContext Kind = "transport_context"
	Watchdog         Kind = "watchdog"
	MQTTDisconnect   Kind = "mqtt_disconnect"
)

// BridgeError wraps an underlying error with a classification tag.
type BridgeError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *BridgeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *BridgeError) Unwrap() error {
	return e.Err
}

// New builds a BridgeError with no wrapped cause.
func New(kind Kind, message string) *BridgeError {
	return &BridgeError{Kind: kind, Message: message}
}

// Wrap builds a BridgeError around an underlying error.
func Wrap(kind Kind, message string, err error) *BridgeError {
	return &BridgeError{Kind: kind, Message: message, Err: err}
}

// Is reports whether err is a *BridgeError of the given kind.
func Is(err error, kind Kind) bool {
	be, ok := err.(*BridgeError)
	if !ok {
		return false
	}
	return be.Kind == kind
}
