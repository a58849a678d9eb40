package datagram

import (
	"net"
	"net/netip"
)

// maxDatagramSize is the receive buffer size.
const maxDatagramSize = 65535

// Channel is an unreliable packet channel, usually a UDP socket.
type Channel interface {
	SendTo(addr netip.AddrPort, b []byte) error
	// RecvFrom blocks for the next packet. The returned slice is owned by
	// the caller.
	RecvFrom() (netip.AddrPort, []byte, error)
	Close() error
}

// UDPChannel adapts a UDP socket.
type UDPChannel struct {
	conn *net.UDPConn
}

// NewUDPChannel wraps conn.
func NewUDPChannel(conn *net.UDPConn) *UDPChannel {
	return &UDPChannel{conn: conn}
}

// ListenUDP opens a UDP socket on address.
func ListenUDP(address string) (*UDPChannel, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return NewUDPChannel(conn), nil
}

// SendTo implements Channel.
func (c *UDPChannel) SendTo(addr netip.AddrPort, b []byte) error {
	_, err := c.conn.WriteToUDPAddrPort(b, addr)
	return err
}

// RecvFrom implements Channel.
func (c *UDPChannel) RecvFrom() (netip.AddrPort, []byte, error) {
	buf := make([]byte, maxDatagramSize)
	n, addr, err := c.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return netip.AddrPort{}, nil, err
	}
	return addr, buf[:n], nil
}

// Close implements Channel.
func (c *UDPChannel) Close() error {
	return c.conn.Close()
}

// LocalAddr returns the bound address.
func (c *UDPChannel) LocalAddr() netip.AddrPort {
	return c.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}
