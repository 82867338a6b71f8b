// ABOUTME: OFAC SDN sanctioned-address predicate with a cached best-effort feed.
// ABOUTME: Refresh failures never abort the primary operation.

package sanctions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/skiffworks/skiff/internal/fsutil"
	"github.com/skiffworks/skiff/internal/prices"
)

// Payload is the fetched list shape: per-chain address arrays.
type Payload struct {
	EVM    []string `json:"evm"`
	Solana []string `json:"solana"`
}

type cacheFile struct {
	FetchedAt time.Time `json:"fetched_at"`
	Payload   Payload   `json:"payload"`
}

// List answers Contains(chain, address) against the most recent snapshot.
// Safe for concurrent use.
type List struct {
	url       string
	cachePath string
	maxAge    time.Duration
	http      *http.Client
	logger    *slog.Logger

	mu        sync.RWMutex
	addrs     map[string]map[string]struct{} // chain -> normalized address set
	fetchedAt time.Time
}

// New builds a list backed by url with an on-disk cache. The cache (if any)
// is loaded immediately so the predicate works offline.
func New(url, cachePath string, maxAge time.Duration) *List {
	l := &List{
		url:       url,
		cachePath: cachePath,
		maxAge:    maxAge,
		http:      &http.Client{Timeout: 15 * time.Second},
		logger:    slog.Default().With("component", "sanctions"),
		addrs:     map[string]map[string]struct{}{},
	}
	l.loadCache()
	return l
}

// Contains reports whether address is on the sanctions list for chain. A
// stale snapshot triggers an opportunistic refresh first; refresh failure is
// logged and the stale (or empty) snapshot keeps serving.
func (l *List) Contains(ctx context.Context, chain, address string) bool {
	l.maybeRefresh(ctx)

	l.mu.RLock()
	defer l.mu.RUnlock()
	set, ok := l.addrs[chain]
	if !ok {
		return false
	}
	_, hit := set[normalize(chain, address)]
	return hit
}

func (l *List) maybeRefresh(ctx context.Context) {
	if l.url == "" {
		return
	}
	l.mu.RLock()
	fresh := time.Since(l.fetchedAt) < l.maxAge
	l.mu.RUnlock()
	if fresh {
		return
	}
	if err := l.Refresh(ctx); err != nil {
		l.logger.Warn("sanctions refresh failed, serving cached snapshot", "error", err)
	}
}

// Refresh fetches the list and atomically replaces the snapshot and cache.
func (l *List) Refresh(ctx context.Context) error {
	if err := prices.CheckEndpoint(l.url); err != nil {
		return fmt.Errorf("ofac_sdn_url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return fmt.Errorf("building sanctions request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetching sanctions list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching sanctions list: http %d", resp.StatusCode)
	}

	var payload Payload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decoding sanctions list: %w", err)
	}

	l.install(payload, time.Now().UTC())

	// Cache write is best-effort; the in-memory snapshot is already live.
	data, err := json.Marshal(cacheFile{FetchedAt: time.Now().UTC(), Payload: payload})
	if err == nil {
		if err := fsutil.WriteFileAtomic(l.cachePath, data, fsutil.ModeFilePrivate); err != nil {
			l.logger.Warn("writing sanctions cache failed", "error", err)
		}
	}

	l.logger.Info("sanctions list refreshed",
		"evm", len(payload.EVM),
		"solana", len(payload.Solana),
	)
	return nil
}

func (l *List) install(p Payload, fetchedAt time.Time) {
	addrs := map[string]map[string]struct{}{
		"evm":    make(map[string]struct{}, len(p.EVM)),
		"solana": make(map[string]struct{}, len(p.Solana)),
	}
	for _, a := range p.EVM {
		addrs["evm"][normalize("evm", a)] = struct{}{}
	}
	for _, a := range p.Solana {
		addrs["solana"][normalize("solana", a)] = struct{}{}
	}

	l.mu.Lock()
	l.addrs = addrs
	l.fetchedAt = fetchedAt
	l.mu.Unlock()
}

func (l *List) loadCache() {
	data, err := os.ReadFile(l.cachePath)
	if err != nil {
		return
	}
	var cached cacheFile
	if err := json.Unmarshal(data, &cached); err != nil {
		l.logger.Warn("sanctions cache unreadable, ignoring", "error", err)
		return
	}
	l.install(cached.Payload, cached.FetchedAt)
}

// normalize makes addresses comparable: EVM hex is case-insensitive, Solana
// base58 is exact.
func normalize(chain, address string) string {
	a := strings.TrimSpace(address)
	if chain == "evm" {
		return strings.ToLower(a)
	}
	return a
}
