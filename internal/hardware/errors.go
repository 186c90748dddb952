package hardware

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreachable covers transport failures and non-2xx responses.
	ErrUnreachable = errors.New("hardware controller unreachable")
	// ErrProtocol covers malformed bodies and explicit success=false replies.
	ErrProtocol = errors.New("hardware controller protocol error")
	// ErrCommandFailed is matched by every *CommandError.
	ErrCommandFailed = errors.New("hardware command failed")
	// ErrPollTimeout is returned when a door-close poll runs out of attempts or time.
	ErrPollTimeout = errors.New("timed out waiting for locker to lock")
)

// CommandError reports a rejected or undeliverable open command.
type CommandError struct {
	Channel int
	Reason  string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("open locker %d: %s", e.Channel, e.Reason)
}

func (e *CommandError) Is(target error) bool {
	return target == ErrCommandFailed
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
