package busrpc

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrCallTimeout     = errors.New("busrpc: remote call timeout")
	ErrRemoteFunction  = errors.New("busrpc: remote function error")
	ErrInvalidTimeout  = errors.New("busrpc: timeout must be a non-negative number of seconds")
	ErrConfig          = errors.New("busrpc: invalid configuration")
	ErrEmptyName       = errors.New("busrpc: empty consumer name")
	ErrClientClosed    = errors.New("busrpc: client closed")
	ErrMissingArgument = errors.New("busrpc: missing argument")
)

// CallTimeoutError is returned when no reply arrived before the deadline.
// The remote side may still run the call.
type CallTimeoutError struct {
	Function string
	Timeout  time.Duration
}

func (e *CallTimeoutError) Error() string {
	return fmt.Sprintf("busrpc: calling remote function '%s' timed out after %s", e.Function, e.Timeout)
}

func (e *CallTimeoutError) Is(target error) bool { return target == ErrCallTimeout }

// RemoteFunctionError carries the error a remote handler returned. Its
// message is the handler's error text, unchanged.
type RemoteFunctionError struct {
	Function string
	Message  string
	// Payload is the raw reply body.
	Payload []byte
}

func (e *RemoteFunctionError) Error() string { return e.Message }

func (e *RemoteFunctionError) Is(target error) bool { return target == ErrRemoteFunction }

// ExclusivityError reports the first consumer whose queue assignment breaks
// an exclusive binding.
type ExclusivityError struct {
	Consumer string
	Queue    string
}

func (e *ExclusivityError) Error() string {
	return fmt.Sprintf("busrpc: consumer %s conflicts with exclusive queue %s", e.Consumer, e.Queue)
}

func (e *ExclusivityError) Is(target error) bool { return target == ErrConfig }

// NotFoundMessage is the error text replied for an unknown consumer.
func NotFoundMessage(name string) string {
	return fmt.Sprintf("Function '%s' not found.", name)
}
