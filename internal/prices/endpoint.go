// ABOUTME: Endpoint hygiene shared by every outbound HTTP consumer.
// ABOUTME: https always; plaintext http only to loopback.

package prices

import (
	"fmt"
	"strings"
)

func isLoopbackHTTP(raw string) bool {
	hostPrefixOK := func(s, prefix string) bool {
		if !strings.HasPrefix(s, prefix) {
			return false
		}
		rest := s[len(prefix):]
		return rest == "" || rest[0] == ':' || rest[0] == '/'
	}
	u := strings.TrimSpace(raw)
	return hostPrefixOK(u, "http://127.0.0.1") ||
		hostPrefixOK(u, "http://localhost") ||
		hostPrefixOK(u, "http://[::1]")
}

// CheckEndpoint rejects any non-loopback plaintext http URL. Misconfiguring a
// custody agent onto cleartext transport is a hard error, not a warning.
func CheckEndpoint(raw string) error {
	u := strings.TrimSpace(raw)
	if strings.HasPrefix(u, "https://") || isLoopbackHTTP(u) {
		return nil
	}
	return fmt.Errorf("endpoint %q must use https (or http://localhost for local testing)", raw)
}
