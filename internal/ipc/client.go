package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) call(method string, req, resp any) error {
	return c.client.Call(ServiceName+"."+method, req, resp)
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pause stops new cycles.
func (c *Client) Pause() (*PauseResponse, error) {
	var resp PauseResponse
	if err := c.call("Pause", PauseRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Resume re-enables cycles.
func (c *Client) Resume() (*ResumeResponse, error) {
	var resp ResumeResponse
	if err := c.call("Resume", ResumeRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunOnce requests an immediate cycle.
func (c *Client) RunOnce() (*RunOnceResponse, error) {
	var resp RunOnceResponse
	if err := c.call("RunOnce", RunOnceRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop asks the daemon to exit.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.call("Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LedgerList lists ledger entries.
func (c *Client) LedgerList(req LedgerListRequest) (*LedgerListResponse, error) {
	var resp LedgerListResponse
	if err := c.call("LedgerList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LedgerShow returns one ledger entry.
func (c *Client) LedgerShow(identity string) (*LedgerShowResponse, error) {
	var resp LedgerShowResponse
	if err := c.call("LedgerShow", LedgerShowRequest{Identity: identity}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LedgerRetry resets failed stages so the next cycle retries them.
func (c *Client) LedgerRetry(req LedgerRetryRequest) (*LedgerRetryResponse, error) {
	var resp LedgerRetryResponse
	if err := c.call("LedgerRetry", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
