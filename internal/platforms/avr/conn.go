package avr

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"
)

// Conn is the narrow adapter the receiver logic depends on, so everything
// above it can be tested without a network.
type Conn interface {
	// Send writes one command line to the receiver.
	Send(command string) error

	// ReadLine blocks until the receiver emits one event line.
	ReadLine() (string, error)

	Close() error
}

// Dialer opens a Conn to a receiver address.
type Dialer func(address string) (Conn, error)

const (
	dialTimeout  = 5 * time.Second
	writeTimeout = 5 * time.Second
)

// tcpConn is the production Conn over the receiver's telnet control port.
type tcpConn struct {
	conn   net.Conn
	reader *bufio.Reader
}

// DialTCP connects to the receiver's control port. Addresses without a port
// get the conventional telnet port 23.
func DialTCP(address string) (Conn, error) {
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, "23")
	}

	conn, err := net.DialTimeout("tcp", address, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to receiver: %w", err)
	}

	return &tcpConn{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}, nil
}

func (c *tcpConn) Send(command string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := c.conn.Write([]byte(command + "\r"))
	return err
}

func (c *tcpConn) ReadLine() (string, error) {
	line, err := c.reader.ReadString('\r')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}
