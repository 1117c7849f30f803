package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTimeout        = errors.New("engine: request timed out")
	ErrUnknownPreset  = errors.New("engine: unknown preset")
	ErrConnectionGone = errors.New("engine: connection gone before reply")
)

// TimeoutError reports a Get that saw no reply in time.
type TimeoutError struct {
	Preset  string
	Conn    string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("engine: %s on %s timed out after %s", e.Preset, e.Conn, e.Elapsed.Round(time.Millisecond))
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
