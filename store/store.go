// Package store is the durable SQLite backing of a lootbox node: the
// supply counters, the account ledger, the delegate registry and the
// genesis marker all live in one database file.
//
// Amounts are stored as decimal text because SQLite integers are signed
// 64-bit and balances span the full uint64 range.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/blockberries/lootbox"
	"github.com/blockberries/lootbox/supply"
	"github.com/blockberries/lootbox/types"
)

// Compile-time interface checks.
var (
	_ lootbox.Ledger   = (*Store)(nil)
	_ lootbox.Registry = (*Store)(nil)
	_ supply.Counters  = (*Store)(nil)
)

// ErrInsufficientBalance is returned by DebitBalance when the account
// holds less than the requested amount.
var ErrInsufficientBalance = errors.New("store: insufficient balance")

const genesisKey = "genesis_done"

// Store persists lootbox state in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store: empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite db: %w", err)
	}
	// One connection serializes writers; read-modify-write transactions
	// below rely on it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: pragmas: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	return &Store{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS counters (
			token INTEGER PRIMARY KEY,
			minted TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS balances (
			account TEXT NOT NULL,
			token INTEGER NOT NULL,
			amount TEXT NOT NULL,
			PRIMARY KEY (account, token)
		);`,
		`CREATE TABLE IF NOT EXISTS delegates (
			owner TEXT NOT NULL,
			delegate TEXT NOT NULL,
			PRIMARY KEY (owner, delegate)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- supply.Counters ---

// LoadCounters returns every persisted minted counter.
func (s *Store) LoadCounters(ctx context.Context) (map[types.TokenID]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT token, minted FROM counters`)
	if err != nil {
		return nil, fmt.Errorf("store: query counters: %w", err)
	}
	defer rows.Close()

	out := make(map[types.TokenID]uint64)
	for rows.Next() {
		var token int64
		var minted string
		if err := rows.Scan(&token, &minted); err != nil {
			return nil, fmt.Errorf("store: scan counter: %w", err)
		}
		n, err := strconv.ParseUint(minted, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("store: counter %d: %w", token, err)
		}
		out[types.TokenID(token)] = n
	}
	return out, rows.Err()
}

// StoreCounters writes minted in a single transaction.
func (s *Store) StoreCounters(ctx context.Context, minted map[types.TokenID]uint64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for token, n := range minted {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO counters(token, minted) VALUES(?, ?)
				 ON CONFLICT(token) DO UPDATE SET minted = excluded.minted`,
				int64(token), strconv.FormatUint(n, 10)); err != nil {
				return fmt.Errorf("store: write counter %s: %w", token, err)
			}
		}
		return nil
	})
}

// --- lootbox.Ledger ---

// CreditBalance adds amount of token to account.
func (s *Store) CreditBalance(ctx context.Context, account types.Account, token types.TokenID, amount uint64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := balanceTx(ctx, tx, account, token)
		if err != nil {
			return err
		}
		if cur > ^uint64(0)-amount {
			return fmt.Errorf("store: credit %d %s to %s overflows", amount, token, account)
		}
		return putBalanceTx(ctx, tx, account, token, cur+amount)
	})
}

// DebitBalance removes amount of token from account. It fails with
// ErrInsufficientBalance, changing nothing, if the balance is too low.
func (s *Store) DebitBalance(ctx context.Context, account types.Account, token types.TokenID, amount uint64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := balanceTx(ctx, tx, account, token)
		if err != nil {
			return err
		}
		if cur < amount {
			return fmt.Errorf("%w: %s holds %d %s, need %d", ErrInsufficientBalance, account, cur, token, amount)
		}
		return putBalanceTx(ctx, tx, account, token, cur-amount)
	})
}

// BalanceOf returns the balance of token held by account.
func (s *Store) BalanceOf(ctx context.Context, account types.Account, token types.TokenID) (uint64, error) {
	var amount string
	err := s.db.QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE account = ? AND token = ?`,
		account.String(), int64(token)).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: read balance: %w", err)
	}
	return strconv.ParseUint(amount, 10, 64)
}

func balanceTx(ctx context.Context, tx *sql.Tx, account types.Account, token types.TokenID) (uint64, error) {
	var amount string
	err := tx.QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE account = ? AND token = ?`,
		account.String(), int64(token)).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: read balance: %w", err)
	}
	return strconv.ParseUint(amount, 10, 64)
}

func putBalanceTx(ctx context.Context, tx *sql.Tx, account types.Account, token types.TokenID, amount uint64) error {
	var err error
	if amount == 0 {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM balances WHERE account = ? AND token = ?`,
			account.String(), int64(token))
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO balances(account, token, amount) VALUES(?, ?, ?)
			 ON CONFLICT(account, token) DO UPDATE SET amount = excluded.amount`,
			account.String(), int64(token), strconv.FormatUint(amount, 10))
	}
	if err != nil {
		return fmt.Errorf("store: write balance: %w", err)
	}
	return nil
}

// --- lootbox.Registry ---

// IsDelegate reports whether caller is registered as a delegate of owner.
func (s *Store) IsDelegate(ctx context.Context, owner, caller types.Account) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM delegates WHERE owner = ? AND delegate = ?`,
		owner.String(), caller.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: read delegate: %w", err)
	}
	return true, nil
}

// SetDelegate registers or revokes delegate for owner.
func (s *Store) SetDelegate(ctx context.Context, owner, delegate types.Account, allowed bool) error {
	var err error
	if allowed {
		_, err = s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO delegates(owner, delegate) VALUES(?, ?)`,
			owner.String(), delegate.String())
	} else {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM delegates WHERE owner = ? AND delegate = ?`,
			owner.String(), delegate.String())
	}
	if err != nil {
		return fmt.Errorf("store: write delegate: %w", err)
	}
	return nil
}

// --- engine.GenesisMarker ---

// GenesisDone reports whether genesis has been recorded.
func (s *Store) GenesisDone(ctx context.Context) (bool, error) {
	return s.flag(ctx, genesisKey)
}

// MarkGenesis records that genesis has run.
func (s *Store) MarkGenesis(ctx context.Context) error {
	return s.setFlag(ctx, genesisKey)
}

// PreMinted reports whether the genesis stock of token was credited.
func (s *Store) PreMinted(ctx context.Context, token types.TokenID) (bool, error) {
	return s.flag(ctx, preMintKey(token))
}

// MarkPreMinted records that the genesis stock of token was credited.
func (s *Store) MarkPreMinted(ctx context.Context, token types.TokenID) error {
	return s.setFlag(ctx, preMintKey(token))
}

func preMintKey(token types.TokenID) string {
	return "genesis:" + strconv.FormatUint(uint64(token), 10)
}

func (s *Store) flag(ctx context.Context, key string) (bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: read %s: %w", key, err)
	}
	return v == "1", nil
}

func (s *Store) setFlag(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES(?, '1')
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key); err != nil {
		return fmt.Errorf("store: write %s: %w", key, err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}
