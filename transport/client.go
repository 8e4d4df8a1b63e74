// client.go is a thin send helper over the command transport, used by
// this package's tests (cmd/digsd does not use it); it is deliberately
// not a CLI binary, per
// spec.md's Non-goals excluding digs-lock and similar front-ends.
package transport

import (
	"fmt"
	"net"
	"time"
)

// Client holds one open command-transport connection, authenticated once
// at Dial time.
type Client struct {
	conn net.Conn
}

// Dial connects to addr and sends bearer as the authentication frame.
func Dial(addr, bearer string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	if err := WriteFrame(conn, Frame{Kind: KindState, Payload: []byte(bearer)}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: sending auth frame: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// SendCommand sends line as a COMMAND frame and returns the server's STATE
// reply payload verbatim (either "OK ..." or "ERROR ...").
func (c *Client) SendCommand(line string) (string, error) {
	if err := WriteFrame(c.conn, NewCommandFrame(line)); err != nil {
		return "", err
	}
	f, err := ReadFrame(c.conn)
	if err != nil {
		return "", err
	}
	return string(f.Payload), nil
}

// Keepalive sends a KEEPALIVE frame and waits for the echoed reply.
func (c *Client) Keepalive() error {
	if err := WriteFrame(c.conn, Frame{Kind: KindKeepalive}); err != nil {
		return err
	}
	_, err := ReadFrame(c.conn)
	return err
}
