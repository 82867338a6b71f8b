// ABOUTME: SQLite-backed ledger using modernc.org/sqlite: audit log + tx history.
// ABOUTME: Both tables are append-only, keyed by UTC day for range queries.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/skiffworks/skiff/internal/audit"
)

// Ledger persists the append-only audit log and transaction history.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// TxEntry is one completed on-chain action.
type TxEntry struct {
	ID       int64          `json:"id"`
	Ts       time.Time      `json:"ts"`
	Day      string         `json:"day"` // UTC, YYYY-MM-DD
	Wallet   string         `json:"wallet"`
	Chain    string         `json:"chain"`
	Type     string         `json:"type"` // send, swap, nft_transfer, ...
	USDValue *float64       `json:"usd_value,omitempty"`
	TxID     string         `json:"txid"`
	Detail   map[string]any `json:"detail,omitempty"`
}

// TxFilter narrows ReadTxHistory results. Zero values mean "no filter".
type TxFilter struct {
	Wallet string
	Chain  string
	Type   string
	Since  *time.Time
	Until  *time.Time
	Limit  int
}

// Open opens (or creates) the ledger database at path.
func Open(path string) (*Ledger, error) {
	logger := slog.Default().With("component", "ledger")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}

	// WAL keeps appends cheap and lets readers proceed during writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	l := &Ledger{db: db, logger: logger}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Debug("ledger opened", "path", path)
	return l, nil
}

func (l *Ledger) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			day TEXT NOT NULL,
			tool TEXT,
			wallet TEXT,
			chain TEXT,
			entry_json TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_day ON audit_log(day);

		CREATE TABLE IF NOT EXISTS tx_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			day TEXT NOT NULL,
			wallet TEXT NOT NULL,
			chain TEXT NOT NULL,
			type TEXT NOT NULL,
			usd_value REAL,
			txid TEXT,
			entry_json TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tx_day ON tx_history(day);
		CREATE INDEX IF NOT EXISTS idx_tx_wallet ON tx_history(wallet);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// AppendAudit normalizes event and appends it to the audit log. The returned
// error must be surfaced for funds-moving outcomes; callers logging low-stakes
// bookkeeping events may swallow it.
func (l *Ledger) AppendAudit(ctx context.Context, event any) error {
	entry := audit.Normalize(event)

	ts := time.Now().UTC()
	if s, ok := entry["ts"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, s); err == nil {
			ts = parsed.UTC()
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO audit_log (ts, day, tool, wallet, chain, entry_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ts.Format(time.RFC3339),
		ts.Format(time.DateOnly),
		stringField(entry, "tool"),
		stringField(entry, "wallet"),
		stringField(entry, "chain"),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// AppendTx appends a completed on-chain action to the transaction history.
// Ts and Day are filled if unset.
func (l *Ledger) AppendTx(ctx context.Context, e *TxEntry) error {
	if e.Ts.IsZero() {
		e.Ts = time.Now().UTC()
	}
	if e.Day == "" {
		e.Day = e.Ts.UTC().Format(time.DateOnly)
	}

	detail := "{}"
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling tx detail: %w", err)
		}
		detail = string(data)
	}

	var usd any
	if e.USDValue != nil {
		usd = *e.USDValue
	}

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO tx_history (ts, day, wallet, chain, type, usd_value, txid, entry_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Ts.UTC().Format(time.RFC3339), e.Day, e.Wallet, e.Chain, e.Type, usd, e.TxID, detail,
	)
	if err != nil {
		return fmt.Errorf("inserting tx entry: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}

	l.logger.Debug("recorded transaction",
		"wallet", e.Wallet,
		"chain", e.Chain,
		"type", e.Type,
		"txid", e.TxID,
	)
	return nil
}

// ReadTxHistory returns transaction history entries, newest first, filtered
// server-side. Limit defaults to 100 and is capped at 1000.
func (l *Ledger) ReadTxHistory(ctx context.Context, f TxFilter) ([]*TxEntry, error) {
	query := `SELECT id, ts, day, wallet, chain, type, usd_value, txid, entry_json FROM tx_history`

	var conds []string
	var args []any
	if f.Wallet != "" {
		conds = append(conds, "wallet = ?")
		args = append(args, f.Wallet)
	}
	if f.Chain != "" {
		conds = append(conds, "chain = ?")
		args = append(args, f.Chain)
	}
	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, f.Type)
	}
	if f.Since != nil {
		conds = append(conds, "ts >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339))
	}
	if f.Until != nil {
		conds = append(conds, "ts <= ?")
		args = append(args, f.Until.UTC().Format(time.RFC3339))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tx history: %w", err)
	}
	defer rows.Close()

	var out []*TxEntry
	for rows.Next() {
		var (
			e      TxEntry
			tsRaw  string
			usd    sql.NullFloat64
			txid   sql.NullString
			detail string
		)
		if err := rows.Scan(&e.ID, &tsRaw, &e.Day, &e.Wallet, &e.Chain, &e.Type, &usd, &txid, &detail); err != nil {
			return nil, fmt.Errorf("scanning tx entry: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339, tsRaw); err == nil {
			e.Ts = ts
		}
		if usd.Valid {
			v := usd.Float64
			e.USDValue = &v
		}
		e.TxID = txid.String
		if detail != "" && detail != "{}" {
			if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
				return nil, fmt.Errorf("decoding tx detail: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// DailyUsedUSD sums the known USD value of all value-moving actions recorded
// on the given UTC day, optionally scoped to one wallet. Feeds the policy
// engine's daily cap.
func (l *Ledger) DailyUsedUSD(ctx context.Context, day string, wallet string) (float64, error) {
	query := `SELECT COALESCE(SUM(usd_value), 0) FROM tx_history WHERE day = ? AND usd_value IS NOT NULL`
	args := []any{day}
	if wallet != "" {
		query += " AND wallet = ?"
		args = append(args, wallet)
	}

	var total float64
	if err := l.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("summing daily usage: %w", err)
	}
	return total, nil
}

// ReadAuditLog returns the most recent audit entries, newest first.
func (l *Ledger) ReadAuditLog(ctx context.Context, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT entry_json FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("decoding audit entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func stringField(m map[string]any, key string) any {
	if s, ok := m[key].(string); ok {
		return s
	}
	return nil
}
