// ABOUTME: Line-delimited JSON-RPC 2.0 server dispatching custody tools.
// ABOUTME: Frames are handled strictly in arrival order per connection.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/skiffworks/skiff/internal/chains"
	"github.com/skiffworks/skiff/internal/config"
	"github.com/skiffworks/skiff/internal/keystore"
	"github.com/skiffworks/skiff/internal/session"
	"github.com/skiffworks/skiff/internal/store"
)

// protocolVersion is the MCP revision we advertise in initialize responses.
const protocolVersion = "2025-06-18"

// serverVersion is reported in the initialize handshake.
const serverVersion = "0.3.0"

// Pricer values an asset amount in USD. The bool is false when no value
// could be determined.
type Pricer interface {
	USDValue(ctx context.Context, asset string, amount float64) (float64, bool)
}

// SanctionsChecker answers whether an address is on the sanctions list.
type SanctionsChecker interface {
	Contains(ctx context.Context, chain, address string) bool
}

// ServerConfig carries the server's collaborators.
type ServerConfig struct {
	Keystore  *keystore.Keystore
	Config    *config.Config
	Ledger    *store.Ledger
	Chains    *chains.Registry
	Prices    Pricer
	Sanctions SanctionsChecker
	Logger    *slog.Logger

	// Test seams; production uses the defaults.
	Now               func() time.Time
	LookupEnv         func(string) string
	PassphraseTimeout time.Duration
	ConfirmTimeout    time.Duration
	Session           *session.Cache
}

// Server owns one process's custody surface. Serve may be called once per
// client connection; the session cache is shared across connections.
type Server struct {
	ks        *keystore.Keystore
	cfg       *config.Config
	ledger    *store.Ledger
	chains    *chains.Registry
	prices    Pricer
	sanctions SanctionsChecker
	session   *session.Cache
	logger    *slog.Logger

	now               func() time.Time
	lookupEnv         func(string) string
	passphraseTimeout time.Duration
	confirmTimeout    time.Duration

	tools     []toolDef
	toolIndex map[string]int
}

// NewServer wires a server from its collaborators.
func NewServer(cfg ServerConfig) (*Server, error) {
	switch {
	case cfg.Keystore == nil:
		return nil, errors.New("keystore is required")
	case cfg.Config == nil:
		return nil, errors.New("config is required")
	case cfg.Ledger == nil:
		return nil, errors.New("ledger is required")
	case cfg.Chains == nil:
		return nil, errors.New("chain registry is required")
	case cfg.Prices == nil:
		return nil, errors.New("price client is required")
	case cfg.Sanctions == nil:
		return nil, errors.New("sanctions list is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "mcp")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	lookupEnv := cfg.LookupEnv
	if lookupEnv == nil {
		lookupEnv = os.Getenv
	}
	sess := cfg.Session
	if sess == nil {
		sess = session.New()
	}
	passTimeout := cfg.PassphraseTimeout
	if passTimeout == 0 {
		passTimeout = 5 * time.Minute
	}
	confirmTimeout := cfg.ConfirmTimeout
	if confirmTimeout == 0 {
		confirmTimeout = 2 * time.Minute
	}

	s := &Server{
		ks:                cfg.Keystore,
		cfg:               cfg.Config,
		ledger:            cfg.Ledger,
		chains:            cfg.Chains,
		prices:            cfg.Prices,
		sanctions:         cfg.Sanctions,
		session:           sess,
		logger:            logger,
		now:               now,
		lookupEnv:         lookupEnv,
		passphraseTimeout: passTimeout,
		confirmTimeout:    confirmTimeout,
	}
	s.registerTools()
	return s, nil
}

// Serve runs one connection to completion. Inbound frames are handled
// strictly in arrival order: frame N+1 is not dispatched until frame N's
// response has been written. An elicitation raised while handling a call
// reads further inbound frames itself, making the connection half-duplex
// until the prompt resolves.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	conn := NewConn(r, w)
	s.logger.Info("connection open")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-conn.Lines():
			if !ok {
				s.logger.Info("connection closed")
				return nil
			}
			s.handleFrame(ctx, conn, line)
		}
	}
}

func (s *Server) handleFrame(ctx context.Context, conn *Conn, line json.RawMessage) {
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		_ = conn.writeError(nil, rpcParseError, "invalid JSON")
		return
	}

	// Stray responses (e.g. a late elicitation answer after timeout) are
	// dropped; there is nothing awaiting them.
	if msg.Method == "" {
		s.logger.Debug("discarding unsolicited response", "id", string(msg.ID))
		return
	}

	if msg.JSONRPC != "2.0" {
		_ = conn.writeError(msg.ID, rpcInvalidRequest, "invalid JSON-RPC version")
		return
	}

	if msg.isNotification() {
		s.logger.Debug("notification", "method", msg.Method)
		return
	}

	switch msg.Method {
	case "initialize":
		s.handleInitialize(conn, msg)
	case "ping":
		_ = conn.writeResult(msg.ID, map[string]any{})
	case "tools/list":
		s.handleToolsList(conn, msg)
	case "tools/call":
		s.handleToolsCall(ctx, conn, msg)
	default:
		_ = conn.writeError(msg.ID, rpcMethodNotFound, "method not found")
	}
}

func (s *Server) handleInitialize(conn *Conn, msg Message) {
	result := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    "skiff",
			"version": serverVersion,
		},
	}
	_ = conn.writeResult(msg.ID, result)
}

// ToolInfo is one entry of a tools/list result.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// CallToolResult wraps a tool outcome. The inner JSON rides as text content;
// IsError marks a structured ToolError payload.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content is one content block in a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func (s *Server) handleToolsList(conn *Conn, msg Message) {
	infos := make([]ToolInfo, len(s.tools))
	for i, t := range s.tools {
		infos[i] = ToolInfo{Name: t.name, Description: t.description, InputSchema: t.schema}
	}
	_ = conn.writeResult(msg.ID, map[string]any{"tools": infos})
}

type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func (s *Server) handleToolsCall(ctx context.Context, conn *Conn, msg Message) {
	var params callParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			_ = conn.writeError(msg.ID, rpcInvalidParams, "invalid params")
			return
		}
	}
	if params.Name == "" {
		_ = conn.writeError(msg.ID, rpcInvalidParams, "tool name is required")
		return
	}

	out, err := s.callTool(ctx, conn, params.Name, params.Arguments)

	var result CallToolResult
	if err != nil {
		te := asToolError(err)
		s.logger.Warn("tool failed", "tool", params.Name, "code", te.Code, "error", te.Message)
		text, _ := json.Marshal(te)
		result = CallToolResult{Content: []Content{{Type: "text", Text: string(text)}}, IsError: true}
	} else {
		text, merr := json.Marshal(out)
		if merr != nil {
			te := Errorf(CodeInternal, "encoding tool result: %s", merr)
			text, _ = json.Marshal(te)
			result = CallToolResult{Content: []Content{{Type: "text", Text: string(text)}}, IsError: true}
		} else {
			result = CallToolResult{Content: []Content{{Type: "text", Text: string(text)}}}
		}
	}
	_ = conn.writeResult(msg.ID, result)
}

func (s *Server) callTool(ctx context.Context, conn *Conn, name string, args json.RawMessage) (any, error) {
	i, ok := s.toolIndex[name]
	if !ok {
		return nil, Errorf(CodeNotFound, "unknown tool %q", name)
	}
	s.logger.Debug("tools/call", "tool", name)
	return s.tools[i].handler(ctx, conn, args)
}

// toolDef binds a tool's wire metadata to its handler.
type toolDef struct {
	name        string
	description string
	schema      json.RawMessage
	handler     func(ctx context.Context, conn *Conn, args json.RawMessage) (any, error)
}

func (s *Server) addTool(name, description string, schema string, handler func(context.Context, *Conn, json.RawMessage) (any, error)) {
	s.tools = append(s.tools, toolDef{
		name:        name,
		description: description,
		schema:      json.RawMessage(schema),
		handler:     handler,
	})
	if s.toolIndex == nil {
		s.toolIndex = map[string]int{}
	}
	s.toolIndex[name] = len(s.tools) - 1
}

// decodeArgs decodes tool arguments, rejecting unknown fields so malformed
// requests fail at the boundary instead of deep inside a handler.
func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return Errorf(CodeInvalidRequest, "invalid arguments: %s", err)
	}
	return nil
}

// resolveWallet returns the wallet for an optional name argument, falling
// back to the active wallet. The second return is the account index to use:
// the active index for the active wallet, 0 otherwise.
func (s *Server) resolveWallet(name string) (keystore.WalletInfo, uint32, error) {
	if name == "" {
		return s.ks.GetActiveWallet()
	}
	info, err := s.ks.GetWalletByName(name)
	if err != nil {
		return keystore.WalletInfo{}, 0, err
	}
	return info, 0, nil
}

// unlockFor obtains the wallet's root secret, prompting for the passphrase
// only when the wallet is passphrase-protected. A wrong key clears the
// session so the next attempt re-prompts instead of failing forever.
func (s *Server) unlockFor(ctx context.Context, conn *Conn, info keystore.WalletInfo) ([]byte, error) {
	var passKey *[32]byte
	if info.NeedsPassphrase {
		key, err := s.ensureUnlocked(ctx, conn, info.Name)
		if err != nil {
			return nil, err
		}
		passKey = &key
	}
	secret, err := s.ks.UnlockSecret(info.Name, passKey)
	if err != nil {
		if errors.Is(err, keystore.ErrDecrypt) {
			s.session.Clear()
		}
		return nil, err
	}
	return secret, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
