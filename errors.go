package strix

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrInvalidChannel           = errors.New("invalid channel")
	ErrChannelOperationNotFound = errors.New("channel operation not found")
	ErrOperationIDNotFound      = errors.New("operation id not found")
	ErrInvalidMessage           = errors.New("invalid message")
	ErrInvalidHandler           = errors.New("invalid handler")
	ErrOperationTimeout         = errors.New("operation timed out")
)

// InvalidChannelError reports a channel the specification does not declare.
type InvalidChannelError struct {
	Channel string
}

func (e *InvalidChannelError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidChannel, e.Channel)
}

func (e *InvalidChannelError) Is(target error) bool { return target == ErrInvalidChannel }

// ChannelOperationNotFoundError reports a channel without the requested operation, or with the
// operation but without an operation id when MissingID is set.
type ChannelOperationNotFoundError struct {
	Channel   string
	Operation string
	MissingID bool
}

func (e *ChannelOperationNotFoundError) Error() string {
	if e.MissingID {
		return fmt.Sprintf("%s: channel %s has a %s operation without operation id", ErrChannelOperationNotFound, e.Channel, e.Operation)
	}
	return fmt.Sprintf("%s: channel %s has no %s operation", ErrChannelOperationNotFound, e.Channel, e.Operation)
}

func (e *ChannelOperationNotFoundError) Is(target error) bool {
	return target == ErrChannelOperationNotFound
}

// OperationIDNotFoundError reports an operation id without a registered handler.
type OperationIDNotFoundError struct {
	Channel     string
	OperationID string
}

func (e *OperationIDNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s (channel %s)", ErrOperationIDNotFound, e.OperationID, e.Channel)
}

func (e *OperationIDNotFoundError) Is(target error) bool { return target == ErrOperationIDNotFound }

// InvalidMessageError carries a message whose type does not match the payload type of its channel.
type InvalidMessageError struct {
	Channel  string
	Value    any
	Expected reflect.Type
	Err      error
}

func (e *InvalidMessageError) Error() string {
	msg := fmt.Sprintf("%s for channel %s: got %T, expected %s", ErrInvalidMessage, e.Channel, e.Value, e.Expected)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidMessageError) Is(target error) bool { return target == ErrInvalidMessage }

func (e *InvalidMessageError) Unwrap() error { return e.Err }
