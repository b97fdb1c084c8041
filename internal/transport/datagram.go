package transport

import (
	"net"

	"chordkv/internal/wire"
)

// datagramEndpoint wraps a connected UDP socket. A single write is a
// single packet, so no length-delimiting is needed (UDP preserves
// message boundaries); heartbeats may still be reordered, duplicated
// or lost in flight, which the receiver tolerates by design (spec
// §4.6, §5: "the receiver is idempotent in them").
type datagramEndpoint struct {
	conn net.Conn
}

func dialDatagram(addr string) (*datagramEndpoint, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, err
	}
	return &datagramEndpoint{conn: conn}, nil
}

func (e *datagramEndpoint) Send(msg wire.Message) error {
	payload, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	_, err = e.conn.Write(payload)
	return err
}

func (e *datagramEndpoint) Close() error {
	return e.conn.Close()
}
