package transport

import (
	"bufio"
	"context"
	"errors"
	"net"

	"github.com/sirupsen/logrus"

	"chordkv/internal/wire"
)

// Event is an inbound network occurrence handed to the node's event
// loop (spec §4.3: "external events (peer message, client message,
// timer tick) enter the event loop"). From is the remote socket
// address of an inbound stream connection, best-effort only: most
// Message variants already carry the address the handler needs
// (ReplyAddr, RequesterAddr, Addr), since replies are sent as fresh
// outbound messages rather than responses on the inbound connection.
type Event struct {
	Msg  wire.Message
	From string
}

// Listener accepts stream connections and reads datagram packets on
// the same ip:port (spec §6: "Every node listens on the same ip:port
// for a reliable stream transport ... and the same ip:port for a
// datagram transport"), decoding both into Events pushed onto Inbox.
type Listener struct {
	addr  string
	ln    net.Listener
	pc    net.PacketConn
	Inbox chan Event
	log   *logrus.Entry
}

// Listen opens both the TCP listener and the UDP socket on addr. The
// UDP socket is bound to the TCP listener's actual address, so a port
// of 0 yields one OS-assigned port shared by both transports.
func Listen(addr string, log *logrus.Entry) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	pc, err := net.ListenPacket("udp", ln.Addr().String())
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	return &Listener{
		addr:  addr,
		ln:    ln,
		pc:    pc,
		Inbox: make(chan Event, 256),
		log:   log,
	}, nil
}

// Addr returns the actual bound address (useful when the configured
// port was 0 and the OS assigned one).
func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}

// Serve runs the TCP accept loop and the UDP read loop until ctx is
// done or Close is called. It does not block the caller; run it in
// its own goroutine.
func (l *Listener) Serve(ctx context.Context) {
	go l.serveStream(ctx)
	go l.serveDatagram(ctx)
}

func (l *Listener) serveStream(ctx context.Context) {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.WithError(err).Warn("accept failed")
			continue
		}
		go l.readStream(ctx, conn)
	}
}

func (l *Listener) readStream(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	remote := conn.RemoteAddr().String()
	for {
		msg, err := wire.ReadFrame(r)
		if err != nil {
			if errors.Is(err, wire.ErrDecode) {
				// The frame's bytes were read in full; only the
				// payload failed to decode. The connection is still
				// positioned cleanly at the next frame, so drop this
				// one and keep reading rather than disconnecting
				// (spec §4.10, mirrors serveDatagram below).
				l.log.WithError(err).WithField("remote", remote).Debug("dropped malformed frame, connection kept open")
				continue
			}
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				// Genuine I/O failure: the stream is desynced or the
				// peer is gone, so there is nothing to keep reading.
				l.log.WithError(err).WithField("remote", remote).Debug("stream connection ended")
			}
			return
		}
		select {
		case l.Inbox <- Event{Msg: msg, From: remote}:
		case <-ctx.Done():
			return
		}
	}
}

const maxDatagramSize = 65507 // max theoretical UDP payload over IPv4

func (l *Listener) serveDatagram(ctx context.Context) {
	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := l.pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.WithError(err).Warn("datagram read failed")
			continue
		}
		msg, err := wire.Decode(buf[:n])
		if err != nil {
			// Malformed datagram: log and drop, never disconnect
			// (there is no connection to drop for UDP anyway).
			l.log.WithError(err).WithField("remote", from.String()).Debug("dropped malformed datagram")
			continue
		}
		select {
		case l.Inbox <- Event{Msg: msg, From: from.String()}:
		case <-ctx.Done():
			return
		}
	}
}

// Close shuts down both sockets.
func (l *Listener) Close() error {
	err1 := l.ln.Close()
	err2 := l.pc.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
