// Package store persists grid snapshots so a bot can resume across
// restarts without re-deriving state from the exchange alone. Snapshot
// layout follows spec §6: ordered slot list, boundary index, cache
// funds, bts_fees_owed, asset metadata, and flags, written atomically.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SlotSnapshot is one row of the persisted slot list.
type SlotSnapshot struct {
	ID              string  `json:"id"`
	Price           string  `json:"price"`
	Type            string  `json:"type"`
	State           string  `json:"state"`
	Size            int64   `json:"size"`
	ExchangeOrderID string  `json:"order_id,omitempty"`
}

// Snapshot is the self-describing document persisted per bot (spec §6
// "Persisted snapshot layout").
type Snapshot struct {
	LineageID     string         `json:"lineage_id"`
	BotKey        string         `json:"bot_key"`
	Slots         []SlotSnapshot `json:"slots"`
	BoundaryIndex int            `json:"boundary_index"`
	CacheFundsBuy int64          `json:"cache_funds_buy"`
	CacheFundsSell int64         `json:"cache_funds_sell"`
	BtsFeesOwed   int64          `json:"bts_fees_owed"`
	AssetA        string         `json:"asset_a"`
	AssetB        string         `json:"asset_b"`
	PrecisionA    int            `json:"precision_a"`
	PrecisionB    int            `json:"precision_b"`
	DryRun        bool           `json:"dry_run"`
	Version       uint64         `json:"version"`
	WrittenAtUnix int64          `json:"written_at_unix"`
}

// SQLiteStore is the grid snapshot store, grounded on the teacher's
// WAL-mode single-row checksummed state table.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if absent) a sqlite-backed snapshot store at
// dbPath and ensures its schema exists.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", dbPath, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS grid_snapshot (
	bot_key    TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	checksum   BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);`

// StoreGridSnapshot writes snap atomically (write-then-rename is
// expressed here as a single serializable transaction plus checksum,
// the sqlite-native equivalent the teacher's store uses).
func (s *SQLiteStore) StoreGridSnapshot(ctx context.Context, snap Snapshot) error {
	if snap.LineageID == "" {
		snap.LineageID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: marshal snapshot: %w", err)
	}

	var roundTrip Snapshot
	if err := json.Unmarshal(data, &roundTrip); err != nil {
		return fmt.Errorf("store: snapshot failed round-trip validation: %w", err)
	}

	checksum := sha256.Sum256(data)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO grid_snapshot (bot_key, data, checksum, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(bot_key) DO UPDATE SET data=excluded.data, checksum=excluded.checksum, updated_at=excluded.updated_at`,
		snap.BotKey, string(data), checksum[:], time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("store: write snapshot: %w", err)
	}

	return tx.Commit()
}

// LoadGridSnapshot returns the persisted snapshot for botKey, or
// (nil, nil) if none exists (spec §6 load_grid_snapshot).
func (s *SQLiteStore) LoadGridSnapshot(ctx context.Context, botKey string) (*Snapshot, error) {
	var data string
	var checksum []byte
	err := s.db.QueryRowContext(ctx, `SELECT data, checksum FROM grid_snapshot WHERE bot_key = ?`, botKey).Scan(&data, &checksum)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read snapshot: %w", err)
	}

	computed := sha256.Sum256([]byte(data))
	if len(checksum) != len(computed) {
		return nil, fmt.Errorf("store: checksum length mismatch for %q", botKey)
	}
	for i := range computed {
		if checksum[i] != computed[i] {
			return nil, fmt.Errorf("store: checksum mismatch for %q: snapshot corrupted", botKey)
		}
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("store: unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
