package proto

import (
	"bufio"
	"errors"
	"io"
	"sync"
	"time"
)

// ErrClosed reports that the peer closed its end of the channel.
var ErrClosed = errors.New("control channel closed")

// ErrTimeout reports that no frame arrived within the receive deadline.
var ErrTimeout = errors.New("control channel receive timeout")

// frame pairs a decoded message with its decode error so that malformed
// input is observable per-frame rather than killing the reader.
type frame struct {
	msg Message
	err error
}

// Conn is one end of a duplex control channel over a byte stream pair.
// The supervisor holds one per worker (child stdin/stdout); the worker
// holds the mirror (its own stdin/stdout). A background goroutine owns all
// reads so that Recv can honor a deadline; Send is safe for concurrent use.
type Conn struct {
	mu sync.Mutex
	w  io.Writer
	in chan frame
}

// NewConn starts the reader goroutine and returns the connection. The
// goroutine exits when r reaches EOF or errors.
func NewConn(r io.Reader, w io.Writer) *Conn {
	c := &Conn{w: w, in: make(chan frame, 16)}
	go c.readLoop(r)
	return c
}

func (c *Conn) readLoop(r io.Reader) {
	defer close(c.in)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m, err := Decode(scanner.Bytes())
		c.in <- frame{msg: m, err: err}
	}
}

// Send writes one frame.
func (c *Conn) Send(m Message) error {
	b, err := Encode(m)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(b); err != nil {
		return err
	}
	return nil
}

// Recv returns the next frame. A non-positive timeout blocks until a frame
// arrives or the peer closes the channel; otherwise Recv returns ErrTimeout
// once the deadline passes — never an indefinite hang. A malformed inbound
// frame is reported as ErrMalformed and the next Recv keeps reading.
func (c *Conn) Recv(timeout time.Duration) (Message, error) {
	if timeout <= 0 {
		f, ok := <-c.in
		if !ok {
			return nil, ErrClosed
		}
		return f.msg, f.err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f, ok := <-c.in:
		if !ok {
			return nil, ErrClosed
		}
		return f.msg, f.err
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// Close closes the write side when it is closable, signalling EOF to the
// peer's reader.
func (c *Conn) Close() error {
	if wc, ok := c.w.(io.Closer); ok {
		return wc.Close()
	}
	return nil
}
