// Package wire defines the length-framed, msgpack-encoded protocol
// spoken between clients, the master, and chunk servers. It replaces
// a language-internal object-graph serializer with a documented,
// tagged schema so that any implementation speaking this frame format
// can interoperate.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxFrameSize bounds a single frame to guard against a bad length
// prefix turning into an unbounded allocation.
const MaxFrameSize = 64 << 20 // 64 MiB

// Command tags understood by the master frontend, per spec §4.7.
const (
	CmdUpload    = "upload"
	CmdDownload  = "download"
	CmdListFiles = "list_files"
	CmdLease     = "lease"
	CmdUnlease   = "unlease"
	CmdHeartbeat = "heartbeat"
)

// Chunk-server command tags, per spec §6. These travel on the
// chunk-server's own TCP listener, entirely separate from the
// master's, so reusing "download" here does not clash with
// CmdDownload above.
const (
	CmdStore      = "store"
	CmdCSDownload = "download"
	CmdReplicate  = "replicate"
)

// Status values every response carries.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusRedirect = "redirect"
)

// Request is a single tagged request frame.
type Request struct {
	Command string                 `msgpack:"command"`
	Payload map[string]interface{} `msgpack:"payload"`
}

// Response is a single tagged response frame.
type Response struct {
	Status  string                 `msgpack:"status"`
	Payload map[string]interface{} `msgpack:"payload"`
}

// NewRequest builds a request with the given command and payload.
func NewRequest(command string, payload map[string]interface{}) Request {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return Request{Command: command, Payload: payload}
}

// Success builds a success response.
func Success(payload map[string]interface{}) Response {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return Response{Status: StatusSuccess, Payload: payload}
}

// Error builds an error response carrying a human-readable message.
func Error(message string) Response {
	return Response{Status: StatusError, Payload: map[string]interface{}{"message": message}}
}

// Redirect builds a redirect response pointing at the current leader.
func Redirect(host string, port int) Response {
	return Response{
		Status: StatusRedirect,
		Payload: map[string]interface{}{
			"leader_host": host,
			"leader_port": port,
		},
	}
}

// WriteFrame writes a length-prefixed msgpack encoding of v to w.
func WriteFrame(w io.Writer, v interface{}) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal: %w", err)
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("wire: frame too large: %d bytes", len(body))
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: write body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed msgpack frame from r into v.
func ReadFrame(r io.Reader, v interface{}) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return fmt.Errorf("wire: frame too large: %d bytes", length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("wire: read body: %w", err)
	}
	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("wire: unmarshal: %w", err)
	}
	return nil
}

// Conn wraps a net.Conn with buffered framed request/response helpers
// and a read deadline, matching the 60s client-socket timeout in §5.
type Conn struct {
	nc     net.Conn
	reader *bufio.Reader
}

// NewConn wraps an accepted or dialed connection.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, reader: bufio.NewReader(nc)}
}

// SetReadTimeout applies a read deadline relative to now.
func (c *Conn) SetReadTimeout(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return c.nc.SetReadDeadline(time.Now().Add(d))
}

// ReadRequest reads one request frame.
func (c *Conn) ReadRequest() (Request, error) {
	var req Request
	err := ReadFrame(c.reader, &req)
	return req, err
}

// ReadResponse reads one response frame.
func (c *Conn) ReadResponse() (Response, error) {
	var resp Response
	err := ReadFrame(c.reader, &resp)
	return resp, err
}

// WriteRequest writes one request frame.
func (c *Conn) WriteRequest(req Request) error {
	return WriteFrame(c.nc, req)
}

// WriteResponse writes one response frame.
func (c *Conn) WriteResponse(resp Response) error {
	return WriteFrame(c.nc, resp)
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}
