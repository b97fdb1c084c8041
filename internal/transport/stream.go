package transport

import (
	"bufio"
	"net"
	"sync"
	"time"

	"chordkv/internal/wire"
)

// streamEndpoint wraps a persistent TCP connection. Sends are
// serialized by a mutex so messages to the same peer over the
// reliable transport are written, and therefore delivered, in send
// order (spec §5).
type streamEndpoint struct {
	mu   sync.Mutex
	conn net.Conn
	w    *bufio.Writer
}

func dialStream(addr string, timeout time.Duration) (*streamEndpoint, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return &streamEndpoint{conn: conn, w: bufio.NewWriter(conn)}, nil
}

func (e *streamEndpoint) Send(msg wire.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := wire.WriteFrame(e.w, msg); err != nil {
		return err
	}
	return e.w.Flush()
}

func (e *streamEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn.Close()
}
