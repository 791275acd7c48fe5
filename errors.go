package xrv

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument             = errors.New("xrv: invalid argument")
	ErrNotInitialized              = errors.New("xrv: not initialized")
	ErrAlreadyInitialized          = errors.New("xrv: already initialized")
	ErrClosed                      = errors.New("xrv: closed")
	ErrObserverPoolShutdownTimeout = errors.New("xrv: observer pool shutdown timeout")
)

// ErrUnknownDriver is returned by NewDriver for names nobody registered.
type ErrUnknownDriver struct{ name string }

func (e ErrUnknownDriver) Error() string { return fmt.Sprintf("xrv: unknown driver: %s", e.name) }

// ArgumentError reports a nil or empty required argument.
type ArgumentError struct {
	Arg    string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("xrv: invalid argument %s: %s", e.Arg, e.Reason)
}

func (e *ArgumentError) Is(target error) bool { return target == ErrInvalidArgument }

func argError(arg, reason string) error { return &ArgumentError{Arg: arg, Reason: reason} }

// ConfigurationError reports invalid or missing configuration. Never retried.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("xrv: config %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("xrv: config %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func configError(field, reason string) error { return &ConfigurationError{Field: field, Reason: reason} }

// TransportError wraps a failure reported by the underlying driver.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("xrv: transport %s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

func transportError(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// TranslationError reports a vendor message that cannot be mapped.
type TranslationError struct {
	Field  string
	Reason string
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("xrv: translate field %q: %s", e.Field, e.Reason)
}

// ProduceError is returned to Producer callers for any translate or send failure.
type ProduceError struct {
	MessageID string
	Subject   string
	Err       error
}

func (e *ProduceError) Error() string {
	return fmt.Sprintf("xrv: produce message %q to %q: %v", e.MessageID, e.Subject, e.Err)
}

func (e *ProduceError) Unwrap() error { return e.Err }
