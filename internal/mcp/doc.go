// Package mcp implements the custody agent's tool protocol.
//
// # Overview
//
// An AI-agent client connects over a duplex byte stream (stdio in the
// shipped binary) and speaks line-delimited JSON-RPC 2.0: one frame per
// line, newline-terminated. The server exposes wallet, policy, read, and
// funds-moving tools; the client discovers them with tools/list and invokes
// them with tools/call.
//
// # Protocol
//
// Supported methods:
//
//   - initialize - handshake; returns protocol version and server info
//   - ping - liveness check
//   - tools/list - tool names, descriptions, and input schemas
//   - tools/call - invoke one tool by name with JSON arguments
//
// Every tool call response is wrapped as
//
//	{"content": [{"type": "text", "text": <json>}], "isError": bool}
//
// where the inner JSON is the tool's success payload or a structured
// {code, message} error. Protocol-level JSON-RPC errors are reserved for
// malformed envelopes; everything a client can react to programmatically
// arrives as a tool-level error code (not_found, auth_failed, busy, ...).
//
// # Elicitation
//
// The server initiates prompts over the same stream with
// elicitation/create requests: passphrase forms and yes/no confirmations
// for operations above the auto-approve threshold. Server-minted ids start
// at 1000000 so they never collide with client request ids.
//
// While an elicitation is pending the connection is single-outstanding:
// inbound frames that do not answer the pending id are discarded, not
// queued. A concurrent tool call sent during a passphrase prompt is
// therefore dropped. This lossy behavior is deliberate wire compatibility;
// clients must not pipeline requests across a pending prompt.
//
// # Ordering
//
// Within a connection, frames are handled strictly in arrival order: the
// response to frame N is written before frame N+1 is dispatched. Handling
// a call may itself consume further inbound frames (the elicitation
// sub-protocol), making the transport half-duplex for that span.
//
// # Unlocking
//
// Funds-moving and key-deriving tools on passphrase-protected wallets
// resolve the key in order: live session cache, SKIFF_PASSPHRASE
// environment variable, interactive form elicitation. Any successful path
// populates the per-process session cache for the configured TTL.
package mcp
