// ABOUTME: Tests for line framing and the elicitation state machine.
// ABOUTME: The timeout property: resolves at or after the deadline, never before.

package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFrame_OneLinePerFrame(t *testing.T) {
	var buf bytes.Buffer
	conn := NewConn(strings.NewReader(""), &buf)

	require.NoError(t, conn.WriteFrame(map[string]any{"a": 1}))
	require.NoError(t, conn.WriteFrame(map[string]any{"b": 2}))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	for _, l := range lines {
		assert.True(t, json.Valid([]byte(l)), l)
	}
}

func TestConn_LinesCloseOnEOF(t *testing.T) {
	conn := NewConn(strings.NewReader("{\"a\":1}\n\n{\"b\":2}\n"), io.Discard)

	var got []string
	for line := range conn.Lines() {
		got = append(got, string(line))
	}
	// The blank line is skipped, the channel closes at EOF.
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, got)
}

func TestConn_ElicitIDsMonotonicFromFloor(t *testing.T) {
	conn := NewConn(strings.NewReader(""), io.Discard)
	first := conn.nextElicitID()
	assert.Equal(t, int64(1_000_000), first)
	assert.Equal(t, first+1, conn.nextElicitID())
}

// pipeConn builds a Conn whose peer end is scriptable from the test.
func pipeConn(t *testing.T) (*Conn, *io.PipeWriter, *bufio.Scanner) {
	t.Helper()
	clientToServer, clientWrites := io.Pipe()
	serverReads, serverToClient := io.Pipe()
	t.Cleanup(func() {
		clientWrites.Close()
		serverToClient.Close()
	})

	conn := NewConn(clientToServer, serverToClient)
	scanner := bufio.NewScanner(serverReads)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)
	return conn, clientWrites, scanner
}

func TestElicit_TimeoutNotBeforeDeadline(t *testing.T) {
	s := newBareServer(t)
	conn, _, _ := pipeConn(t)

	deadline := 80 * time.Millisecond
	start := time.Now()
	_, err := s.elicit(context.Background(), conn, "confirm?", confirmSchema, deadline)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, CodeTimeout, asToolError(err).Code)
	assert.GreaterOrEqual(t, elapsed, deadline, "timeout must not fire before the deadline")
}

func TestElicit_DiscardsNonMatchingTraffic(t *testing.T) {
	s := newBareServer(t)
	conn, clientWrites, scanner := pipeConn(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if !scanner.Scan() {
			t.Error("no elicitation request seen")
			return
		}
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			t.Errorf("bad elicitation frame: %v", err)
			return
		}
		assert.Equal(t, elicitMethod, req.Method)

		// Traffic that must be ignored while awaiting: a concurrent tool
		// call, a notification, and a response to a different id.
		fmt.Fprintf(clientWrites, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"list_wallets"}}`+"\n")
		fmt.Fprintf(clientWrites, `{"jsonrpc":"2.0","method":"notifications/initialized"}`+"\n")
		fmt.Fprintf(clientWrites, `{"jsonrpc":"2.0","id":%d,"result":{"action":"accept","content":{"confirm":true}}}`+"\n", req.ID+1)

		// The matching accept.
		fmt.Fprintf(clientWrites, `{"jsonrpc":"2.0","id":%d,"result":{"action":"accept","content":{"confirm":true}}}`+"\n", req.ID)
	}()

	content, err := s.elicit(context.Background(), conn, "confirm?", confirmSchema, 5*time.Second)
	<-done
	require.NoError(t, err)
	assert.Equal(t, true, content["confirm"])
}

func TestElicit_Decline(t *testing.T) {
	s := newBareServer(t)
	conn, clientWrites, scanner := pipeConn(t)

	go func() {
		if !scanner.Scan() {
			return
		}
		var req Request
		if json.Unmarshal(scanner.Bytes(), &req) != nil {
			return
		}
		fmt.Fprintf(clientWrites, `{"jsonrpc":"2.0","id":%d,"result":{"action":"decline"}}`+"\n", req.ID)
	}()

	_, err := s.elicit(context.Background(), conn, "confirm?", confirmSchema, 5*time.Second)
	require.Error(t, err)
	assert.Equal(t, CodeUserDeclined, asToolError(err).Code)
}

func TestElicit_ConnectionClosed(t *testing.T) {
	s := newBareServer(t)
	conn, clientWrites, _ := pipeConn(t)
	clientWrites.Close()

	_, err := s.elicit(context.Background(), conn, "confirm?", confirmSchema, 5*time.Second)
	require.Error(t, err)
	assert.Equal(t, CodeInternal, asToolError(err).Code)
}
