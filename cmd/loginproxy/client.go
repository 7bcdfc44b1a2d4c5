package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// demoClient adapts a raw net.Conn into a proxy.Client. The real
// client-facing POP3 parser is out of scope here, so this accepts a
// single framing line of "user\tpass\thost:port" up front and then
// treats the connection as an opaque byte stream for the rest of the
// session.
type demoClient struct {
	conn     net.Conn
	reader   *bufio.Reader
	username string
	password string
	sessID   string
	dest     string // host:port, as given by the client
}

// newDemoClient reads the framing line from conn. It does not itself
// dial the destination; callers use destHostPort for that.
func newDemoClient(conn net.Conn) (*demoClient, error) {
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading framing line: %w", err)
	}
	fields := strings.SplitN(strings.TrimRight(line, "\r\n"), "\t", 3)
	if len(fields) != 3 {
		return nil, fmt.Errorf("framing line must be user\\tpass\\thost:port, got %d fields", len(fields))
	}

	return &demoClient{
		conn:     conn,
		reader:   reader,
		username: fields[0],
		password: fields[1],
		sessID:   uuid.NewString(),
		dest:     fields[2],
	}, nil
}

// destHostPort splits dest into host and numeric port.
func (c *demoClient) destHostPort() (host string, port int, err error) {
	h, p, err := net.SplitHostPort(c.dest)
	if err != nil {
		return "", 0, err
	}
	port, err = strconv.Atoi(p)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", p, err)
	}
	return h, port, nil
}

func (c *demoClient) Username() string       { return c.username }
func (c *demoClient) VirtualUser() string    { return c.username }
func (c *demoClient) AltUsernames() []string { return nil }
func (c *demoClient) MasterUser() string     { return "" }
func (c *demoClient) Password() string       { return c.password }

func (c *demoClient) RemoteAddr() string {
	host, _, err := net.SplitHostPort(c.conn.RemoteAddr().String())
	if err != nil {
		return c.conn.RemoteAddr().String()
	}
	return host
}

func (c *demoClient) RemotePort() int {
	_, port, err := net.SplitHostPort(c.conn.RemoteAddr().String())
	if err != nil {
		return 0
	}
	p, _ := strconv.Atoi(port)
	return p
}

func (c *demoClient) Untrusted() bool                  { return false }
func (c *demoClient) SessionID() string                { return c.sessID }
func (c *demoClient) ForwardFields() map[string]string { return nil }

func (c *demoClient) Input() io.Reader  { return c.reader }
func (c *demoClient) Output() io.Writer { return c.conn }

func (c *demoClient) Disconnect(reason string) {
	_ = c.conn.Close()
}
