// Package conntest provides in-memory sockets and dialers for exercising code
// built on conn.Manager without a network.
package conntest

import (
	"context"
	"errors"
	"net"
	"sync"

	"ledger-chat/internal/conn"
	"ledger-chat/internal/models"
)

// Socket is an in-memory conn.Socket. Frames pushed by the test are returned by
// ReadMessage; frames written by the code under test are recorded.
type Socket struct {
	in        chan []byte
	errc      chan error
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	written  [][]byte
	writeErr error
}

func NewSocket() *Socket {
	return &Socket{
		in:     make(chan []byte, 64),
		errc:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (s *Socket) ReadMessage() ([]byte, error) {
	select {
	case <-s.closed:
		return nil, net.ErrClosed
	default:
	}
	select {
	case frame := <-s.in:
		return frame, nil
	case err := <-s.errc:
		return nil, err
	case <-s.closed:
		return nil, net.ErrClosed
	}
}

func (s *Socket) WriteMessage(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	select {
	case <-s.closed:
		return net.ErrClosed
	default:
	}
	s.written = append(s.written, append([]byte(nil), data...))
	return nil
}

func (s *Socket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *Socket) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Push delivers an inbound event to the reader.
func (s *Socket) Push(event string, payload interface{}) error {
	frame, err := models.EncodeEnvelope(event, payload)
	if err != nil {
		return err
	}
	s.in <- frame
	return nil
}

// PushRaw delivers an arbitrary frame.
func (s *Socket) PushRaw(frame []byte) {
	s.in <- frame
}

// Drop ends the stream as a network failure would.
func (s *Socket) Drop() {
	s.errc <- &conn.CloseError{Code: 1006, Text: "unexpected EOF"}
}

// ServerClose ends the stream with a close frame from the server.
func (s *Socket) ServerClose(code int) {
	s.errc <- &conn.CloseError{Code: code, Text: "server disconnect"}
}

func (s *Socket) SetWriteError(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

// Sent returns the decoded frames written so far.
func (s *Socket) Sent() []models.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Envelope, 0, len(s.written))
	for _, frame := range s.written {
		env, err := models.DecodeEnvelope(frame)
		if err != nil {
			continue
		}
		out = append(out, env)
	}
	return out
}

// SentEvents returns the names of written events in order.
func (s *Socket) SentEvents() []string {
	var names []string
	for _, env := range s.Sent() {
		names = append(names, env.Event)
	}
	return names
}

var ErrDialRefused = errors.New("connection refused")

// Dialer hands out Sockets. Queued failures are returned first.
type Dialer struct {
	mu          sync.Mutex
	failures    []error
	sockets     []*Socket
	credentials []string
}

func NewDialer() *Dialer { return &Dialer{} }

// FailNext makes the next n dials fail with err.
func (d *Dialer) FailNext(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < n; i++ {
		d.failures = append(d.failures, err)
	}
}

func (d *Dialer) Dial(ctx context.Context, url, credential string) (conn.Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.credentials = append(d.credentials, credential)
	if len(d.failures) > 0 {
		err := d.failures[0]
		d.failures = d.failures[1:]
		return nil, err
	}
	s := NewSocket()
	d.sockets = append(d.sockets, s)
	return s, nil
}

// Dials counts every dial, failed or not.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.credentials)
}

func (d *Dialer) Credentials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.credentials...)
}

// Last returns the most recently opened socket, or nil.
func (d *Dialer) Last() *Socket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}

func (d *Dialer) Sockets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sockets)
}
