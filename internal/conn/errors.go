package conn

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by operations attempted while the connection is not open.
var ErrNotConnected = errors.New("not connected")

// ConnectionError is a transport-level failure. It is retried under the reconnect policy.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ReconnectExhaustedError is terminal: live updates have stopped until the user reconnects.
type ReconnectExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ReconnectExhaustedError) Error() string {
	return fmt.Sprintf("reconnection failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ReconnectExhaustedError) Unwrap() error { return e.Err }

// CloseError reports a close frame received from the peer.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("closed by server (code %d)", e.Code)
	}
	return fmt.Sprintf("closed by server (code %d): %s", e.Code, e.Text)
}

// closeAbnormal is synthesized locally when the stream ends without a close frame.
const closeAbnormal = 1006

// serverInitiated reports whether err is a deliberate close sent by the server,
// as opposed to a dropped network stream.
func serverInitiated(err error) bool {
	var ce *CloseError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code != closeAbnormal
}
