package socketvmm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/seantiz/vmworker/internal/vmm"
)

const apiBase = "http://unix/api/v1"

// newSocketHTTPClient builds an *http.Client whose Transport dials a
// unix domain socket for every request, regardless of the URL's host.
func newSocketHTTPClient(socketPath string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
		Timeout: 30 * time.Second,
	}
}

// Client is the per-VM control handle for the default hypervisor backend.
type Client struct {
	socketPath string
	http       *http.Client
}

var _ vmm.Client = (*Client)(nil)

// NewClient builds a Client bound to socketPath. It performs no I/O.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, http: newSocketHTTPClient(socketPath)}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return newSerializationErr("encoding request body", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiBase+path, reader)
	if err != nil {
		return newIOErr("building request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return newCommunicationErr("request to "+path+" failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return newIOErr("reading response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newOperationFailedErr(resp.StatusCode, string(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return newSerializationErr("decoding response body", err)
		}
	}
	return nil
}

func (c *Client) Create(ctx context.Context, config vmm.Config) error {
	return c.do(ctx, http.MethodPut, "/vm.create", config, nil)
}

func (c *Client) Boot(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/vm.boot", nil, nil)
}

func (c *Client) Shutdown(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/vm.shutdown", nil, nil)
}

func (c *Client) Delete(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/vm.delete", nil, nil)
}

func (c *Client) Info(ctx context.Context) (vmm.Info, error) {
	var info VmInfo
	if err := c.do(ctx, http.MethodGet, "/vm.info", nil, &info); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *Client) Counters(ctx context.Context) (vmm.Counters, error) {
	var counters VmCounters
	if err := c.do(ctx, http.MethodGet, "/vm.counters", nil, &counters); err != nil {
		return nil, err
	}
	return counters, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/vmm.ping", nil, nil)
}

func (c *Client) Pause(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/vm.pause", nil, nil)
}

func (c *Client) Resume(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/vm.resume", nil, nil)
}
