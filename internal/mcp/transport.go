// ABOUTME: Line-delimited JSON-RPC 2.0 framing over a duplex byte stream.
// ABOUTME: One reader goroutine per connection feeds a line channel.

package mcp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// MaxFrameSize bounds a single inbound line (1MB).
const MaxFrameSize = 1 << 20

// JSON-RPC 2.0 envelope types.

// Message is one decoded inbound frame. A non-empty Method marks it a
// request or notification; otherwise it is a response.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Request is an outbound server-initiated request (elicitation).
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is an outbound reply to a client request.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 protocol-level error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcInternalError  = -32603
)

// isNotification reports whether the frame carries no id (or a null id).
func (m *Message) isNotification() bool {
	return m.Method != "" && (len(m.ID) == 0 || string(m.ID) == "null")
}

// Conn frames messages over one duplex stream. Inbound lines arrive on
// Lines in arrival order; the channel closes when the peer hangs up. There
// is exactly one reader goroutine, so whoever receives from Lines next —
// the serve loop or a pending elicitation — owns the stream at that moment.
type Conn struct {
	w      io.Writer
	wmu    sync.Mutex
	lines  chan json.RawMessage
	logger *slog.Logger

	// Server-initiated ids live far above anything a well-behaved client
	// uses, so elicitation replies cannot collide with client request ids.
	elicitID atomic.Int64
}

// NewConn starts the reader goroutine over r and returns the connection.
func NewConn(r io.Reader, w io.Writer) *Conn {
	c := &Conn{
		w:      w,
		lines:  make(chan json.RawMessage),
		logger: slog.Default().With("component", "mcp.conn"),
	}
	c.elicitID.Store(999_999)
	go c.readLoop(r)
	return c
}

func (c *Conn) readLoop(r io.Reader) {
	defer close(c.lines)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frame := make(json.RawMessage, len(line))
		copy(frame, line)
		c.lines <- frame
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		c.logger.Debug("connection read ended", "error", err)
	}
}

// Lines exposes the inbound frame channel.
func (c *Conn) Lines() <-chan json.RawMessage { return c.lines }

// WriteFrame marshals v and writes it as a single newline-terminated line.
// The buffer is written in one call so concurrent writers cannot interleave
// partial frames.
func (c *Conn) WriteFrame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	data = append(data, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.Write(data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// nextElicitID mints a fresh monotonically increasing server-side id.
func (c *Conn) nextElicitID() int64 { return c.elicitID.Add(1) }

func (c *Conn) writeResult(id json.RawMessage, result any) error {
	return c.WriteFrame(Response{JSONRPC: "2.0", ID: id, Result: result})
}

func (c *Conn) writeError(id json.RawMessage, code int, message string) error {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return c.WriteFrame(Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}})
}
