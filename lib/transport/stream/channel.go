package stream

import (
	"io"
	"net"
	"time"
)

// Channel is a reliable ordered byte channel, usually a TCP connection.
type Channel interface {
	// ReadExact blocks until exactly n bytes are available.
	ReadExact(n int) ([]byte, error)
	// WriteAll blocks until all of b is accepted.
	WriteAll(b []byte) error
	Close() error
}

// ConnChannel adapts a net.Conn.
type ConnChannel struct {
	conn net.Conn
}

// NewConnChannel wraps conn.
func NewConnChannel(conn net.Conn) *ConnChannel {
	return &ConnChannel{conn: conn}
}

// ReadExact implements Channel.
func (c *ConnChannel) ReadExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteAll implements Channel.
func (c *ConnChannel) WriteAll(b []byte) error {
	for len(b) > 0 {
		n, err := c.conn.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// Close implements Channel.
func (c *ConnChannel) Close() error {
	return c.conn.Close()
}

// SetReadDeadline bounds junk reads after a failed handshake.
func (c *ConnChannel) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// RemoteAddr returns the peer's address.
func (c *ConnChannel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
