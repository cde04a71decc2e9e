package rpc

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"diffusion-server/internal/domain"
)

// Client is a minimal protocol client for tools and tests. It is not safe
// for concurrent use; open one per goroutine.
type Client struct {
	conn net.Conn
	br   *bufio.Reader
}

// Dial connects to a server.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, br: bufio.NewReader(conn)}, nil
}

// Generate submits a generation request. With wait the call blocks until the
// job is terminal or the server's wait cap lapses.
func (c *Client) Generate(req domain.GenerationRequest, wait bool) (*Response, error) {
	return c.roundTrip(&Request{Op: OpGenerate, Params: &req, Wait: wait})
}

// Status fetches a job snapshot.
func (c *Client) Status(jobID string) (*Response, error) {
	return c.roundTrip(&Request{Op: OpStatus, JobID: jobID})
}

// Health fetches the operational snapshot.
func (c *Client) Health() (*Response, error) {
	return c.roundTrip(&Request{Op: OpHealth})
}

func (c *Client) roundTrip(req *Request) (*Response, error) {
	if err := WriteFrame(c.conn, req); err != nil {
		return nil, err
	}
	var resp Response
	if err := ReadFrame(c.br, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
