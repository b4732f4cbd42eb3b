package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/settlement/internal/core/domain"
	"github.com/rl1809/settlement/internal/port"
)

var (
	_ port.DatabaseRepository = (*MySQLAdapter)(nil)
	_ port.Tx                 = (*mysqlTx)(nil)
	_ port.CacheRepository    = (*RedisAdapter)(nil)
	_ port.Locker             = (*RedisAdapter)(nil)
)

var savepointName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// querier is what *sql.DB and *sql.Tx have in common.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements port.Repositories against either the pool or a tx.
// Inside a tx, reads that precede a write take row locks.
type queries struct {
	q       querier
	locking bool
}

func (s *queries) forUpdate() string {
	if s.locking {
		return " FOR UPDATE"
	}
	return ""
}

type MySQLAdapter struct {
	*queries
	db        *sql.DB
	txTimeout time.Duration
}

func NewMySQLAdapter(db *sql.DB, txTimeout time.Duration) *MySQLAdapter {
	if txTimeout <= 0 {
		txTimeout = 10 * time.Second
	}
	return &MySQLAdapter{queries: &queries{q: db}, db: db, txTimeout: txTimeout}
}

// WithinTx commits when fn returns nil and rolls back otherwise.
func (m *MySQLAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.txTimeout)
	defer cancel()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &mysqlTx{queries: &queries{q: tx, locking: true}, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type mysqlTx struct {
	*queries
	tx *sql.Tx
}

func (t *mysqlTx) Savepoint(ctx context.Context, name string, fn func() error) (error, error) {
	if !savepointName.MatchString(name) {
		return nil, fmt.Errorf("invalid savepoint name %q", name)
	}
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return nil, fmt.Errorf("savepoint %s: %w", name, err)
	}

	if fnErr := fn(); fnErr != nil {
		if _, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
			return fnErr, fmt.Errorf("rollback to savepoint %s: %w", name, err)
		}
		return fnErr, nil
	}

	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return nil, fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil, nil
}

// CatalogRepository

func (s *queries) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.q.QueryRowContext(ctx, `
		SELECT id, name, sku, price, base_currency, created_at, updated_at
		FROM products WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.SKU, &p.Price, &p.BaseCurrency, &p.CreatedAt, &p.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func (s *queries) GetWarehouse(ctx context.Context, id string) (*domain.Warehouse, error) {
	var w domain.Warehouse
	err := s.q.QueryRowContext(ctx, `SELECT id, name, code FROM warehouses WHERE id = ?`, id).
		Scan(&w.ID, &w.Name, &w.Code)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query warehouse: %w", err)
	}
	return &w, nil
}

// GetExchangeRate returns the latest rate already in effect for the pair.
func (s *queries) GetExchangeRate(ctx context.Context, from, to string) (decimal.Decimal, bool, error) {
	var rate decimal.Decimal
	err := s.q.QueryRowContext(ctx, `
		SELECT rate FROM exchange_rates
		WHERE from_currency = ? AND to_currency = ? AND effective_at <= CURRENT_TIMESTAMP(6)
		ORDER BY effective_at DESC
		LIMIT 1`, from, to,
	).Scan(&rate)

	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("query exchange rate: %w", err)
	}
	return rate, true, nil
}

// SettingsRepository

func (s *queries) GetSettings(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	rows, err := s.q.QueryContext(ctx,
		"SELECT `key`, `value` FROM settings WHERE `key` IN ("+placeholders(len(keys))+")", args...)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// NumberRepository

var seriesTables = map[domain.NumberSeries]string{
	domain.SeriesQuotation:  "quotations",
	domain.SeriesInvoice:    "invoices",
	domain.SeriesSalesOrder: "sales_orders",
	domain.SeriesOrder:      "ecommerce_orders",
	domain.SeriesPayment:    "payments",
}

func seriesTable(series domain.NumberSeries) (string, error) {
	table, ok := seriesTables[series]
	if !ok {
		return "", fmt.Errorf("unknown number series %q", series)
	}
	return table, nil
}

func (s *queries) LastNumber(ctx context.Context, series domain.NumberSeries, prefix string) (string, error) {
	table, err := seriesTable(series)
	if err != nil {
		return "", err
	}

	var number string
	err = s.q.QueryRowContext(ctx,
		"SELECT number FROM "+table+" WHERE number LIKE ? ORDER BY number DESC LIMIT 1",
		escapeLike(prefix)+"%",
	).Scan(&number)

	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query last %s number: %w", series, err)
	}
	return number, nil
}

func (s *queries) NumberExists(ctx context.Context, series domain.NumberSeries, number string) (bool, error) {
	table, err := seriesTable(series)
	if err != nil {
		return false, err
	}
	return s.exists(ctx, "SELECT 1 FROM "+table+" WHERE number = ? LIMIT 1", number)
}

// helpers

func (s *queries) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := s.q.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *queries) sum(ctx context.Context, query string, args ...any) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}
