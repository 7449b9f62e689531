// Package persistence provides SQLite-backed storage for actor snapshots,
// inventories, and the trade ledger. It implements the store interface the
// trade transaction chain writes through.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/arkenvault/pileworks/internal/actor"
	"github.com/arkenvault/pileworks/internal/currency"
	"github.com/arkenvault/pileworks/internal/trade"
)

// ErrNotFound is returned when an actor id has no row.
var ErrNotFound = errors.New("actor not found")

// DB wraps a SQLite connection.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS actors (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		attributes_json TEXT NOT NULL,
		flags_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL REFERENCES actors(id),
		name TEXT NOT NULL,
		img TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		cost TEXT NOT NULL DEFAULT '',
		flags_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		seller_id TEXT NOT NULL,
		buyer_id TEXT NOT NULL,
		total_cost REAL NOT NULL,
		can_buy INTEGER NOT NULL,
		receipt_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_actor ON items(actor_id);
	CREATE INDEX IF NOT EXISTS idx_trades_created ON trades(created_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

type actorRow struct {
	ID             string `db:"id"`
	Name           string `db:"name"`
	AttributesJSON string `db:"attributes_json"`
	FlagsJSON      string `db:"flags_json"`
}

type itemRow struct {
	ID        string `db:"id"`
	ActorID   string `db:"actor_id"`
	Name      string `db:"name"`
	Img       string `db:"img"`
	Type      string `db:"type"`
	Quantity  int    `db:"quantity"`
	Cost      string `db:"cost"`
	FlagsJSON string `db:"flags_json"`
}

// Actor loads a full actor snapshot: attributes, flags, and inventory.
func (db *DB) Actor(ctx context.Context, id string) (*actor.Actor, error) {
	return loadActor(ctx, db.conn, id)
}

// loadActor reads an actor through any queryer, so transactional callers see
// their own uncommitted writes instead of the pooled connection's state.
func loadActor(ctx context.Context, q sqlx.QueryerContext, id string) (*actor.Actor, error) {
	var row actorRow
	err := sqlx.GetContext(ctx, q, &row, "SELECT * FROM actors WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load actor %s: %w", id, err)
	}

	a := &actor.Actor{ID: row.ID, Name: row.Name}
	if err := json.Unmarshal([]byte(row.AttributesJSON), &a.Attributes); err != nil {
		return nil, fmt.Errorf("actor %s attributes: %w", id, err)
	}
	if err := json.Unmarshal([]byte(row.FlagsJSON), &a.Flags); err != nil {
		return nil, fmt.Errorf("actor %s flags: %w", id, err)
	}

	var items []itemRow
	if err := sqlx.SelectContext(ctx, q, &items, "SELECT * FROM items WHERE actor_id = ? ORDER BY id", id); err != nil {
		return nil, fmt.Errorf("actor %s items: %w", id, err)
	}
	for _, ir := range items {
		it := actor.Item{
			ID:       ir.ID,
			Name:     ir.Name,
			Img:      ir.Img,
			Type:     ir.Type,
			Quantity: ir.Quantity,
			Cost:     ir.Cost,
		}
		if err := json.Unmarshal([]byte(ir.FlagsJSON), &it.Flags); err != nil {
			return nil, fmt.Errorf("item %s flags: %w", ir.ID, err)
		}
		a.Items = append(a.Items, it)
	}

	return a, nil
}

// ActorIDs lists all stored actor ids.
func (db *DB) ActorIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := db.conn.SelectContext(ctx, &ids, "SELECT id FROM actors ORDER BY id")
	return ids, err
}

// SaveActor writes an actor and its full inventory (full replace, matching a
// host document update).
func (db *DB) SaveActor(ctx context.Context, a *actor.Actor) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := saveActorTx(tx, a); err != nil {
		return err
	}

	return tx.Commit()
}

func saveActorTx(tx *sqlx.Tx, a *actor.Actor) error {
	attrs, err := json.Marshal(a.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	flags, err := json.Marshal(a.Flags)
	if err != nil {
		return fmt.Errorf("marshal flags: %w", err)
	}

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO actors (id, name, attributes_json, flags_json) VALUES (?, ?, ?, ?)",
		a.ID, a.Name, string(attrs), string(flags),
	); err != nil {
		return fmt.Errorf("insert actor %s: %w", a.ID, err)
	}

	if _, err := tx.Exec("DELETE FROM items WHERE actor_id = ?", a.ID); err != nil {
		return err
	}
	for _, it := range a.Items {
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		itemFlags, err := json.Marshal(it.Flags)
		if err != nil {
			return fmt.Errorf("marshal item %s flags: %w", it.ID, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO items (id, actor_id, name, img, type, quantity, cost, flags_json)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			it.ID, a.ID, it.Name, it.Img, it.Type, it.Quantity, it.Cost, string(itemFlags),
		); err != nil {
			return fmt.Errorf("insert item %s: %w", it.ID, err)
		}
	}

	return nil
}

// ApplyTrade applies all record diffs of one trade and appends the ledger
// entry in a single transaction.
func (db *DB) ApplyTrade(ctx context.Context, entry *trade.LedgerEntry, updates []trade.ActorUpdate) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, upd := range updates {
		a, err := loadActor(ctx, tx, upd.ActorID)
		if err != nil {
			return err
		}
		applyUpdate(a, upd)
		if err := saveActorTx(tx, a); err != nil {
			return err
		}
	}

	receipt, err := json.Marshal(entry.Result)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO trades (id, created_at, user_id, seller_id, buyer_id, total_cost, can_buy, receipt_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.CreatedAt.Format(time.RFC3339Nano), entry.UserID,
		entry.SellerID, entry.BuyerID, entry.TotalCost, boolInt(entry.CanBuy), string(receipt),
	); err != nil {
		return fmt.Errorf("insert trade %s: %w", entry.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	slog.Info("trade persisted", "id", entry.ID, "actors", len(updates))
	return nil
}

// applyUpdate folds a trade diff into an actor snapshot.
func applyUpdate(a *actor.Actor, upd trade.ActorUpdate) {
	for path, delta := range upd.AttributeDeltas {
		if a.Attributes == nil {
			a.Attributes = make(map[string]float64)
		}
		a.Attributes[path] += delta
	}

	for _, d := range upd.ItemDeltas {
		target := a.ItemByID(d.Item.ID)
		if target == nil {
			target = actor.SimilarItem(a.Items, currency.ItemBacking{
				Name: d.Item.Name, Img: d.Item.Img, Type: d.Item.Type,
			})
		}
		if target == nil {
			if d.Delta <= 0 {
				continue
			}
			it := d.Item
			it.ID = uuid.NewString()
			it.Quantity = d.Delta
			a.Items = append(a.Items, it)
			continue
		}
		target.Quantity += d.Delta
		if target.Quantity < 0 {
			target.Quantity = 0
		}
	}

	// Drop depleted inventory rows.
	kept := a.Items[:0]
	for _, it := range a.Items {
		if it.Quantity > 0 {
			kept = append(kept, it)
		}
	}
	a.Items = kept
}

// TradeRecord is one row of the trade ledger.
type TradeRecord struct {
	ID        string  `db:"id" json:"id"`
	CreatedAt string  `db:"created_at" json:"createdAt"`
	UserID    string  `db:"user_id" json:"userId,omitempty"`
	SellerID  string  `db:"seller_id" json:"sellerId"`
	BuyerID   string  `db:"buyer_id" json:"buyerId"`
	TotalCost float64 `db:"total_cost" json:"totalCost"`
	CanBuy    bool    `db:"can_buy" json:"canBuy"`
	Receipt   string  `db:"receipt_json" json:"-"`
}

// RecentTrades returns the most recent N ledger entries.
func (db *DB) RecentTrades(ctx context.Context, limit int) ([]TradeRecord, error) {
	var out []TradeRecord
	err := db.conn.SelectContext(ctx, &out,
		"SELECT * FROM trades ORDER BY created_at DESC LIMIT ?", limit)
	return out, err
}

// SaveSetting stores a key-value pair of global module settings.
func (db *DB) SaveSetting(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)", key, value)
	return err
}

// Setting retrieves a global setting.
func (db *DB) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.GetContext(ctx, &value, "SELECT value FROM settings WHERE key = ?", key)
	return value, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
