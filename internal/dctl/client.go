package dctl

import (
	"fmt"
	"net"
)

// Client is a thin synchronous wrapper over one control-tree connection,
// used by cmd/dctl-cli and anything else that wants to read/write leaves
// without reimplementing the frame protocol.
type Client struct {
	conn net.Conn
}

// Dial connects to a control-tree unix socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) roundTrip(req *Frame) (*Frame, error) {
	if err := WriteFrame(c.conn, req); err != nil {
		return nil, err
	}
	reply, err := ReadFrame(c.conn)
	if err != nil {
		return nil, err
	}
	if reply.Err != ErrNone {
		return reply, fmt.Errorf("dctl: %s: %s", req.Path, reply.Err)
	}
	return reply, nil
}

// ReadLeaf reads the current value of path.
func (c *Client) ReadLeaf(path string) (LeafType, []byte, error) {
	reply, err := c.roundTrip(&Frame{Op: OpReadLeaf, Path: path})
	if err != nil {
		return 0, nil, err
	}
	return reply.Dtype, reply.Data, nil
}

// WriteLeaf sets the value of path.
func (c *Client) WriteLeaf(path string, data []byte) error {
	_, err := c.roundTrip(&Frame{Op: OpWriteLeaf, Path: path, Data: data})
	return err
}

// ListNodes lists the interior-node children of path.
func (c *Client) ListNodes(path string) ([]Entry, error) {
	reply, err := c.roundTrip(&Frame{Op: OpListNodes, Path: path})
	if err != nil {
		return nil, err
	}
	return DecodeEntries(reply.Data)
}

// ListLeafs lists the leaf children of path.
func (c *Client) ListLeafs(path string) ([]Entry, error) {
	reply, err := c.roundTrip(&Frame{Op: OpListLeafs, Path: path})
	if err != nil {
		return nil, err
	}
	return DecodeEntries(reply.Data)
}
