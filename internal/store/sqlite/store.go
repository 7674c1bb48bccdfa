// Package sqlite implements the relational storage ports on SQLite:
// stocks and their daily price bars with indicator columns, plus roles,
// permissions, and user-role assignments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"stockanalysis/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // e.g. "data/stockanalysis.db"
}

// Store implements model.PriceHistoryStore and model.RoleStore over a
// single SQLite database.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks and the shared
// audit sink.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database in WAL mode, runs the migration, and seeds the
// permission catalogue.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	if err := s.seedPermissions(); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed permissions: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS stocks (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol   TEXT NOT NULL UNIQUE,
			name     TEXT NOT NULL DEFAULT '',
			exchange TEXT NOT NULL DEFAULT '',
			sector   TEXT NOT NULL DEFAULT '',
			industry TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS stock_prices (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			stock_id       INTEGER NOT NULL REFERENCES stocks(id) ON DELETE CASCADE,
			date           TEXT    NOT NULL,
			open           REAL    NOT NULL,
			high           REAL    NOT NULL,
			low            REAL    NOT NULL,
			close          REAL    NOT NULL,
			volume         INTEGER NOT NULL DEFAULT 0,
			ma_5           REAL,
			ma_10          REAL,
			ma_20          REAL,
			ma_50          REAL,
			ema_12         REAL,
			ema_26         REAL,
			macd           REAL,
			macd_signal    REAL,
			macd_histogram REAL,
			rsi            REAL,
			UNIQUE (stock_id, date)
		);
		CREATE INDEX IF NOT EXISTS idx_prices_stock_date ON stock_prices(stock_id, date);

		CREATE TABLE IF NOT EXISTS permissions (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			codename TEXT NOT NULL UNIQUE,
			name     TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS roles (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			name        TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			is_active   INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS role_permissions (
			role_id       INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
			permission_id INTEGER NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
			PRIMARY KEY (role_id, permission_id)
		);

		CREATE TABLE IF NOT EXISTS user_roles (
			user_id     INTEGER NOT NULL,
			role_id     INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
			assigned_by INTEGER NOT NULL DEFAULT 0,
			assigned_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
			PRIMARY KEY (user_id, role_id)
		);
	`)
	return err
}

// seedPermissions inserts the reference permission catalogue. Existing
// rows are left untouched.
func (s *Store) seedPermissions() error {
	seed := []model.Permission{
		{Codename: "view_stock", Name: "Can view stock", Category: "stocks"},
		{Codename: "add_stock", Name: "Can add stock", Category: "stocks"},
		{Codename: "change_stock", Name: "Can change stock", Category: "stocks"},
		{Codename: "delete_stock", Name: "Can delete stock", Category: "stocks"},
		{Codename: "refresh_indicators", Name: "Can refresh indicators", Category: "indicators"},
		{Codename: "view_user", Name: "Can view user", Category: "users"},
		{Codename: "change_user", Name: "Can change user", Category: "users"},
		{Codename: "view_role", Name: "Can view role", Category: "roles"},
		{Codename: "change_role", Name: "Can change role", Category: "roles"},
	}
	for _, p := range seed {
		_, err := s.db.Exec(
			`INSERT OR IGNORE INTO permissions (codename, name, category) VALUES (?, ?, ?)`,
			p.Codename, p.Name, p.Category,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// ── PriceHistoryStore ──

func (s *Store) ListSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol FROM stocks ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

func (s *Store) PriceHistory(ctx context.Context, symbol string) ([]model.PriceBar, error) {
	var stockID int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM stocks WHERE symbol = ?`, symbol).Scan(&stockID)
	if err == sql.ErrNoRows {
		return nil, model.ErrStockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup stock %s: %w", symbol, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stock_id, date, open, high, low, close, volume,
		       ma_5, ma_10, ma_20, ma_50, ema_12, ema_26,
		       macd, macd_signal, macd_histogram, rsi
		FROM stock_prices WHERE stock_id = ? ORDER BY date ASC`, stockID)
	if err != nil {
		return nil, fmt.Errorf("load price history %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []model.PriceBar
	for rows.Next() {
		bar, err := scanBar(rows)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	return bars, rows.Err()
}

func scanBar(rows *sql.Rows) (model.PriceBar, error) {
	var (
		b    model.PriceBar
		date string
		f    [10]sql.NullFloat64
	)
	err := rows.Scan(&b.ID, &b.StockID, &date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume,
		&f[0], &f[1], &f[2], &f[3], &f[4], &f[5], &f[6], &f[7], &f[8], &f[9])
	if err != nil {
		return model.PriceBar{}, err
	}
	b.Date, err = parseDate(date)
	if err != nil {
		return model.PriceBar{}, fmt.Errorf("bar %d: %w", b.ID, err)
	}
	b.Indicators = model.IndicatorSet{
		MA5: fromNull(f[0]), MA10: fromNull(f[1]), MA20: fromNull(f[2]), MA50: fromNull(f[3]),
		EMA12: fromNull(f[4]), EMA26: fromNull(f[5]),
		MACD: fromNull(f[6]), MACDSignal: fromNull(f[7]), MACDHistogram: fromNull(f[8]),
		RSI: fromNull(f[9]),
	}
	return b, nil
}

func (s *Store) SaveIndicators(ctx context.Context, barID int64, ind model.IndicatorSet) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stock_prices SET
			ma_5 = ?, ma_10 = ?, ma_20 = ?, ma_50 = ?,
			ema_12 = ?, ema_26 = ?,
			macd = ?, macd_signal = ?, macd_histogram = ?, rsi = ?
		WHERE id = ?`,
		toNull(ind.MA5), toNull(ind.MA10), toNull(ind.MA20), toNull(ind.MA50),
		toNull(ind.EMA12), toNull(ind.EMA26),
		toNull(ind.MACD), toNull(ind.MACDSignal), toNull(ind.MACDHistogram), toNull(ind.RSI),
		barID,
	)
	if err != nil {
		return fmt.Errorf("save indicators bar %d: %w", barID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("save indicators: bar %d not found", barID)
	}
	return nil
}

// UpsertStock inserts or updates a stock record and returns its id.
func (s *Store) UpsertStock(ctx context.Context, st model.Stock) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stocks (symbol, name, exchange, sector, industry)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			name = excluded.name, exchange = excluded.exchange,
			sector = excluded.sector, industry = excluded.industry`,
		st.Symbol, st.Name, st.Exchange, st.Sector, st.Industry,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert stock %s: %w", st.Symbol, err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM stocks WHERE symbol = ?`, st.Symbol).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// InsertPriceBar adds one daily bar for a stock. Duplicate (stock,
// date) pairs are replaced, clearing any stale indicator values.
func (s *Store) InsertPriceBar(ctx context.Context, stockID int64, bar model.PriceBar) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO stock_prices (stock_id, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		stockID, bar.Date.Format(dateLayout), bar.Open, bar.High, bar.Low, bar.Close, bar.Volume,
	)
	if err != nil {
		return 0, fmt.Errorf("insert bar: %w", err)
	}
	return res.LastInsertId()
}

// ── RoleStore ──

func (s *Store) Role(ctx context.Context, roleID int64) (model.Role, error) {
	return loadRole(ctx, s.db, roleID)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadRole(ctx context.Context, q querier, roleID int64) (model.Role, error) {
	var r model.Role
	err := q.QueryRowContext(ctx,
		`SELECT id, name, description, is_active FROM roles WHERE id = ?`, roleID,
	).Scan(&r.ID, &r.Name, &r.Description, &r.IsActive)
	if err == sql.ErrNoRows {
		return model.Role{}, model.ErrRoleNotFound
	}
	if err != nil {
		return model.Role{}, fmt.Errorf("load role %d: %w", roleID, err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT p.id, p.codename, p.name, p.category
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = ?
		ORDER BY p.codename`, roleID)
	if err != nil {
		return model.Role{}, fmt.Errorf("load role %d permissions: %w", roleID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Permission
		if err := rows.Scan(&p.ID, &p.Codename, &p.Name, &p.Category); err != nil {
			return model.Role{}, err
		}
		r.Permissions = append(r.Permissions, p)
	}
	return r, rows.Err()
}

// ApplyPermissionChange applies the mutation inside one transaction:
// readers see either the old set or the new set, never a partial one.
// Unknown codenames are dropped.
func (s *Store) ApplyPermissionChange(ctx context.Context, roleID int64, action model.Action, codenames []string) (model.Role, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Role{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := loadRole(ctx, tx, roleID); err != nil {
		return model.Role{}, err
	}

	permIDs, err := resolveCodenames(ctx, tx, codenames)
	if err != nil {
		return model.Role{}, err
	}

	switch action {
	case model.ActionSet:
		if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = ?`, roleID); err != nil {
			return model.Role{}, fmt.Errorf("clear role %d permissions: %w", roleID, err)
		}
		if err := insertRolePerms(ctx, tx, roleID, permIDs); err != nil {
			return model.Role{}, err
		}
	case model.ActionAdd:
		if err := insertRolePerms(ctx, tx, roleID, permIDs); err != nil {
			return model.Role{}, err
		}
	case model.ActionRemove:
		for _, pid := range permIDs {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM role_permissions WHERE role_id = ? AND permission_id = ?`, roleID, pid); err != nil {
				return model.Role{}, fmt.Errorf("remove permission %d from role %d: %w", pid, roleID, err)
			}
		}
	default:
		return model.Role{}, fmt.Errorf("unknown action %q", action)
	}

	role, err := loadRole(ctx, tx, roleID)
	if err != nil {
		return model.Role{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Role{}, fmt.Errorf("commit: %w", err)
	}
	return role, nil
}

func resolveCodenames(ctx context.Context, q querier, codenames []string) ([]int64, error) {
	var ids []int64
	for _, c := range codenames {
		var id int64
		err := q.QueryRowContext(ctx, `SELECT id FROM permissions WHERE codename = ?`, c).Scan(&id)
		if err == sql.ErrNoRows {
			continue // unknown codename, skipped
		}
		if err != nil {
			return nil, fmt.Errorf("resolve codename %q: %w", c, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func insertRolePerms(ctx context.Context, tx *sql.Tx, roleID int64, permIDs []int64) error {
	for _, pid := range permIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO role_permissions (role_id, permission_id) VALUES (?, ?)`, roleID, pid); err != nil {
			return fmt.Errorf("grant permission %d to role %d: %w", pid, roleID, err)
		}
	}
	return nil
}

func (s *Store) UsersWithRole(ctx context.Context, roleID int64) ([]model.UserRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM user_roles WHERE role_id = ? ORDER BY user_id`, roleID)
	if err != nil {
		return nil, fmt.Errorf("users with role %d: %w", roleID, err)
	}
	defer rows.Close()

	var out []model.UserRef
	for rows.Next() {
		var u model.UserRef
		if err := rows.Scan(&u.ID); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) UserRoles(ctx context.Context, userID int64) ([]model.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = ? AND r.is_active = 1
		ORDER BY r.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("roles for user %d: %w", userID, err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	roles := make([]model.Role, 0, len(ids))
	for _, id := range ids {
		role, err := loadRole(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func (s *Store) AssignRole(ctx context.Context, userID, roleID, assignedBy int64) (bool, error) {
	if _, err := loadRole(ctx, s.db, roleID); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO user_roles (user_id, role_id, assigned_by) VALUES (?, ?, ?)`,
		userID, roleID, assignedBy)
	if err != nil {
		return false, fmt.Errorf("assign role %d to user %d: %w", roleID, userID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) RemoveRole(ctx context.Context, userID, roleID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM user_roles WHERE user_id = ? AND role_id = ?`, userID, roleID)
	if err != nil {
		return fmt.Errorf("remove role %d from user %d: %w", roleID, userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrUserRoleNotFound
	}
	return nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]model.Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, codename, name, category FROM permissions ORDER BY category, codename`)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	defer rows.Close()

	var out []model.Permission
	for rows.Next() {
		var p model.Permission
		if err := rows.Scan(&p.ID, &p.Codename, &p.Name, &p.Category); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateRole inserts a new role. Used by seeding and tests.
func (s *Store) CreateRole(ctx context.Context, name, description string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO roles (name, description) VALUES (?, ?)`, name, description)
	if err != nil {
		return 0, fmt.Errorf("create role %q: %w", name, err)
	}
	return res.LastInsertId()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ── helpers ──

const dateLayout = "2006-01-02"

func parseDate(v string) (time.Time, error) {
	// Bars loaded back from other writers may carry a full timestamp.
	if t, err := time.Parse(dateLayout, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", v, err)
	}
	return t, nil
}

func fromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func toNull(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}
