// Package chunkclient dials chunk servers and speaks the §6 wire
// contract (store/download/replicate). The chunk server itself is an
// external collaborator and out of scope, but the repair loop (C6)
// needs to act as a client of it to push replicas around.
package chunkclient

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	"github.com/meghanachitturi5678/gfsmaster/internal/wire"
)

// DialTimeout bounds how long a single chunk-server RPC may take.
const DialTimeout = 10 * time.Second

// Client is a short-lived dialer: one connection per call, matching
// the request/response-then-close shape of the master's own frontend
// and the util.Call helper this package is grounded on.
type Client struct {
	timeout time.Duration
}

// New returns a chunk-server client with the given per-call timeout.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DialTimeout
	}
	return &Client{timeout: timeout}
}

func (c *Client) call(addr string, req wire.Request) (wire.Response, error) {
	nc, err := net.DialTimeout("tcp", addr, c.timeout)
	if err != nil {
		return wire.Response{}, fmt.Errorf("chunkclient: dial %s: %w", addr, err)
	}
	defer nc.Close()

	conn := wire.NewConn(nc)
	if err := conn.SetReadTimeout(c.timeout); err != nil {
		return wire.Response{}, fmt.Errorf("chunkclient: set deadline: %w", err)
	}
	if err := conn.WriteRequest(req); err != nil {
		return wire.Response{}, fmt.Errorf("chunkclient: write request: %w", err)
	}
	resp, err := conn.ReadResponse()
	if err != nil {
		return wire.Response{}, fmt.Errorf("chunkclient: read response: %w", err)
	}
	return resp, nil
}

// checksum computes the lowercase hex sha256 of data, per §6.
func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Store uploads a chunk's bytes to addr.
func (c *Client) Store(addr, filename, chunkID string, data []byte) error {
	return c.storeLike(addr, wire.CmdStore, filename, chunkID, data)
}

// Replicate asks addr to accept data as a repair replica; identical
// wire shape to Store, per §6 ("same semantics as store").
func (c *Client) Replicate(addr, filename, chunkID string, data []byte) error {
	return c.storeLike(addr, wire.CmdReplicate, filename, chunkID, data)
}

func (c *Client) storeLike(addr, command, filename, chunkID string, data []byte) error {
	req := wire.NewRequest(command, map[string]interface{}{
		"filename": filename,
		"chunk_id": chunkID,
		"data":     data,
		"checksum": checksum(data),
	})
	resp, err := c.call(addr, req)
	if err != nil {
		return err
	}
	if resp.Status != wire.StatusSuccess {
		msg, _ := wire.StringField(resp.Payload, "message")
		return fmt.Errorf("chunkclient: %s %s/%s: %s", command, filename, chunkID, msg)
	}
	return nil
}

// Download fetches a chunk's bytes from addr and verifies its checksum.
func (c *Client) Download(addr, filename, chunkID string) ([]byte, error) {
	req := wire.NewRequest(wire.CmdCSDownload, map[string]interface{}{
		"filename": filename,
		"chunk_id": chunkID,
	})
	resp, err := c.call(addr, req)
	if err != nil {
		return nil, err
	}
	if resp.Status != wire.StatusSuccess {
		msg, _ := wire.StringField(resp.Payload, "message")
		return nil, fmt.Errorf("chunkclient: download %s/%s: %s", filename, chunkID, msg)
	}
	data, err := wire.BytesField(resp.Payload, "data")
	if err != nil {
		return nil, err
	}
	wantSum, err := wire.StringField(resp.Payload, "checksum")
	if err != nil {
		return nil, err
	}
	if got := checksum(data); got != wantSum {
		return nil, fmt.Errorf("chunkclient: checksum mismatch for %s/%s", filename, chunkID)
	}
	return data, nil
}
