/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements ledger.TxStore and fees.DirectoryStore using SQLite. The
  postgres package implements the same ledger contract on pgx.

INTERFACES IMPLEMENTED:
  ledger.Store:        Transaction pairs, refund linkage, settlements
  ledger.TxStore:      WithTx for the refund cascade
  fees.DirectoryStore: Collectives, orders, payment methods

APPEND-ONLY ENFORCEMENT:
  - Rows are inserted in pairs only (CreateDoubleEntry)
  - The only UPDATEs on transactions touch refund_transaction_id (guarded by
    IS NULL) and data_json
  - No DELETE statements on transactions

KEY TABLES:
  transactions:             The ledger
  transaction_settlements:  Status of debt pairs, keyed by (group, kind)
  collectives:              Accounts with their fee settings
  orders:                   Priced orders
  payment_methods:          How orders are paid

INDEXES:
  - idx_transactions_group_kind_type: at most one CREDIT and one DEBIT per
    (group, kind)
  - idx_transactions_order: lookups by order

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole unit of work; the view it hands out runs queries on the *sql.Tx
  without locking again.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/fees"
	"github.com/warp/ledger-engine/ledger"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A :memory: database exists per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		transaction_group TEXT NOT NULL,
		kind TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('CREDIT', 'DEBIT')),
		description TEXT NOT NULL DEFAULT '',
		collective_id INTEGER NOT NULL,
		from_collective_id INTEGER NOT NULL,
		host_collective_id INTEGER,
		currency TEXT NOT NULL,
		amount INTEGER NOT NULL,
		net_amount_in_collective_currency INTEGER NOT NULL,
		host_currency TEXT NOT NULL,
		host_currency_fx_rate TEXT NOT NULL,
		amount_in_host_currency INTEGER NOT NULL,
		host_fee_in_host_currency INTEGER NOT NULL DEFAULT 0,
		platform_fee_in_host_currency INTEGER NOT NULL DEFAULT 0,
		payment_processor_fee_in_host_currency INTEGER NOT NULL DEFAULT 0,
		tax_amount INTEGER NOT NULL DEFAULT 0,
		is_refund BOOLEAN NOT NULL DEFAULT FALSE,
		is_debt BOOLEAN NOT NULL DEFAULT FALSE,
		refund_transaction_id INTEGER REFERENCES transactions(id),
		order_id INTEGER,
		expense_id INTEGER,
		payment_method_id INTEGER,
		payout_method_id INTEGER,
		created_by_user_id INTEGER,
		data_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_group_kind_type
		ON transactions(transaction_group, kind, type);
	CREATE INDEX IF NOT EXISTS idx_transactions_order
		ON transactions(order_id) WHERE order_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_collective
		ON transactions(collective_id, created_at);

	-- Settlement status of debt pairs
	CREATE TABLE IF NOT EXISTS transaction_settlements (
		transaction_group TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('OWED', 'INVOICED', 'SETTLED')),
		expense_id INTEGER,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (transaction_group, kind)
	);

	-- Directory
	CREATE TABLE IF NOT EXISTS collectives (
		id INTEGER PRIMARY KEY,
		slug TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL,
		host_collective_id INTEGER,
		parent_collective_id INTEGER,
		host_fee_percent TEXT,
		settings_json TEXT NOT NULL DEFAULT '{}',
		plan_json TEXT
	);

	CREATE TABLE IF NOT EXISTS payment_methods (
		id INTEGER PRIMARY KEY,
		service TEXT NOT NULL,
		type TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT '',
		host_fee_percent TEXT
	);

	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY,
		collective_id INTEGER NOT NULL,
		from_collective_id INTEGER NOT NULL,
		payment_method_id INTEGER,
		currency TEXT NOT NULL,
		total_amount INTEGER NOT NULL,
		platform_tip_amount INTEGER NOT NULL DEFAULT 0,
		tax_amount INTEGER NOT NULL DEFAULT 0,
		platform_tip_eligible BOOLEAN NOT NULL DEFAULT FALSE,
		host_fee_percent TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTION STORE (ledger.Store interface)
// =============================================================================

const txColumns = `id, transaction_group, kind, type, description,
	collective_id, from_collective_id, host_collective_id,
	currency, amount, net_amount_in_collective_currency,
	host_currency, host_currency_fx_rate, amount_in_host_currency,
	host_fee_in_host_currency, platform_fee_in_host_currency,
	payment_processor_fee_in_host_currency, tax_amount,
	is_refund, is_debt, refund_transaction_id,
	order_id, expense_id, payment_method_id, payout_method_id,
	created_by_user_id, data_json, created_at`

// CreateDoubleEntry inserts both rows of the draft in one database transaction.
func (s *Store) CreateDoubleEntry(ctx context.Context, d ledger.Draft) (ledger.Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Pair{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	pair, err := createDoubleEntry(ctx, sqlTx, d)
	if err != nil {
		return ledger.Pair{}, err
	}
	if err := sqlTx.Commit(); err != nil {
		return ledger.Pair{}, fmt.Errorf("failed to commit pair: %w", err)
	}
	return pair, nil
}

func createDoubleEntry(ctx context.Context, q querier, d ledger.Draft) (ledger.Pair, error) {
	credit, debit := d.Entries()
	now := time.Now().UTC()
	credit.CreatedAt, debit.CreatedAt = now, now

	// The draft's own row is inserted first.
	first, second := &credit, &debit
	if d.Amount <= 0 {
		first, second = &debit, &credit
	}
	for _, row := range []*ledger.Transaction{first, second} {
		id, err := insertTransaction(ctx, q, *row)
		if err != nil {
			return ledger.Pair{}, err
		}
		row.ID = id
	}
	return ledger.Pair{Credit: &credit, Debit: &debit}, nil
}

func insertTransaction(ctx context.Context, q querier, t ledger.Transaction) (int64, error) {
	dataJSON, err := marshalData(t.Data)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO transactions
		(transaction_group, kind, type, description,
		 collective_id, from_collective_id, host_collective_id,
		 currency, amount, net_amount_in_collective_currency,
		 host_currency, host_currency_fx_rate, amount_in_host_currency,
		 host_fee_in_host_currency, platform_fee_in_host_currency,
		 payment_processor_fee_in_host_currency, tax_amount,
		 is_refund, is_debt,
		 order_id, expense_id, payment_method_id, payout_method_id,
		 created_by_user_id, data_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := q.ExecContext(ctx, query,
		t.Group.String(), string(t.Kind), string(t.Type), t.Description,
		t.CollectiveID, t.FromCollectiveID, nullInt(t.HostCollectiveID),
		t.Currency, t.Amount, t.NetAmountInCollectiveCurrency,
		t.HostCurrency, t.HostCurrencyFxRate.String(), t.AmountInHostCurrency,
		t.HostFeeInHostCurrency, t.PlatformFeeInHostCurrency,
		t.PaymentProcessorFeeInHostCurrency, t.TaxAmount,
		t.IsRefund, t.IsDebt,
		nullInt(t.OrderID), nullInt(t.ExpenseID), nullInt(t.PaymentMethodID), nullInt(t.PayoutMethodID),
		nullInt(t.CreatedByUserID), dataJSON,
		t.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert %s %s: %w", t.Kind, t.Type, err)
	}
	return res.LastInsertId()
}

// GetTransaction retrieves a transaction by ID.
func (s *Store) GetTransaction(ctx context.Context, id int64) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTransaction(ctx, s.db, id)
}

func getTransaction(ctx context.Context, q querier, id int64) (*ledger.Transaction, error) {
	row := q.QueryRowContext(ctx, "SELECT "+txColumns+" FROM transactions WHERE id = ?", id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) FindByGroupAndKind(ctx context.Context, group uuid.UUID, kind ledger.Kind) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findByGroupAndKind(ctx, s.db, group, kind)
}

func findByGroupAndKind(ctx context.Context, q querier, group uuid.UUID, kind ledger.Kind) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, q,
		"SELECT "+txColumns+" FROM transactions WHERE transaction_group = ? AND kind = ? ORDER BY id",
		group.String(), string(kind))
}

func (s *Store) FindByGroup(ctx context.Context, group uuid.UUID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findByGroup(ctx, s.db, group)
}

func findByGroup(ctx context.Context, q querier, group uuid.UUID) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, q,
		"SELECT "+txColumns+" FROM transactions WHERE transaction_group = ? ORDER BY id",
		group.String())
}

func (s *Store) FindTransactionQuad(ctx context.Context, original, refund uuid.UUID, kind ledger.Kind) (ledger.Quad, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findTransactionQuad(ctx, s.db, original, refund, kind)
}

func findTransactionQuad(ctx context.Context, q querier, original, refund uuid.UUID, kind ledger.Kind) (ledger.Quad, error) {
	rows, err := queryTransactions(ctx, q,
		"SELECT "+txColumns+" FROM transactions WHERE kind = ? AND transaction_group IN (?, ?) ORDER BY id",
		string(kind), original.String(), refund.String())
	if err != nil {
		return ledger.Quad{}, err
	}
	return ledger.QuadFrom(rows, original, refund), nil
}

// SetRefundTransactionID links a row to its refund counterpart, once.
func (s *Store) SetRefundTransactionID(ctx context.Context, id, refundID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setRefundTransactionID(ctx, s.db, id, refundID)
}

func setRefundTransactionID(ctx context.Context, q querier, id, refundID int64) error {
	res, err := q.ExecContext(ctx,
		"UPDATE transactions SET refund_transaction_id = ? WHERE id = ? AND refund_transaction_id IS NULL",
		refundID, id)
	if err != nil {
		return fmt.Errorf("failed to link transaction %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var count int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions WHERE id = ?", id).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return ledger.ErrTransactionNotFound
	}
	return ledger.ErrAlreadyRefunded
}

func (s *Store) UpdateTransactionData(ctx context.Context, id int64, data ledger.Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateTransactionData(ctx, s.db, id, data)
}

func updateTransactionData(ctx context.Context, q querier, id int64, data ledger.Data) error {
	dataJSON, err := marshalData(data)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, "UPDATE transactions SET data_json = ? WHERE id = ?", dataJSON, id)
	if err != nil {
		return fmt.Errorf("failed to update data of transaction %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrTransactionNotFound
	}
	return nil
}

// RecentTransactions returns the latest rows, newest first.
func (s *Store) RecentTransactions(ctx context.Context, limit int) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	return queryTransactions(ctx, s.db,
		"SELECT "+txColumns+" FROM transactions ORDER BY id DESC LIMIT ?", limit)
}

func queryTransactions(ctx context.Context, q querier, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (ledger.Transaction, error) {
	var (
		t         ledger.Transaction
		group     string
		kind, typ string
		hostID    sql.NullInt64
		fxRate    string
		refundID  sql.NullInt64
		orderID   sql.NullInt64
		expenseID sql.NullInt64
		pmID      sql.NullInt64
		payoutID  sql.NullInt64
		createdBy sql.NullInt64
		dataJSON  sql.NullString
		createdAt string
	)

	err := row.Scan(
		&t.ID, &group, &kind, &typ, &t.Description,
		&t.CollectiveID, &t.FromCollectiveID, &hostID,
		&t.Currency, &t.Amount, &t.NetAmountInCollectiveCurrency,
		&t.HostCurrency, &fxRate, &t.AmountInHostCurrency,
		&t.HostFeeInHostCurrency, &t.PlatformFeeInHostCurrency,
		&t.PaymentProcessorFeeInHostCurrency, &t.TaxAmount,
		&t.IsRefund, &t.IsDebt, &refundID,
		&orderID, &expenseID, &pmID, &payoutID,
		&createdBy, &dataJSON, &createdAt,
	)
	if err == sql.ErrNoRows {
		return t, err
	}
	if err != nil {
		return t, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if t.Group, err = uuid.Parse(group); err != nil {
		return t, fmt.Errorf("transaction %d has invalid group %q: %w", t.ID, group, err)
	}
	t.Kind = ledger.Kind(kind)
	t.Type = ledger.Type(typ)
	if t.HostCurrencyFxRate, err = decimal.NewFromString(fxRate); err != nil {
		return t, fmt.Errorf("transaction %d has invalid fx rate %q: %w", t.ID, fxRate, err)
	}
	t.HostCollectiveID = fromNullInt(hostID)
	t.RefundTransactionID = fromNullInt(refundID)
	t.OrderID = fromNullInt(orderID)
	t.ExpenseID = fromNullInt(expenseID)
	t.PaymentMethodID = fromNullInt(pmID)
	t.PayoutMethodID = fromNullInt(payoutID)
	t.CreatedByUserID = fromNullInt(createdBy)
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	if dataJSON.Valid && dataJSON.String != "" {
		if err := json.Unmarshal([]byte(dataJSON.String), &t.Data); err != nil {
			return t, fmt.Errorf("transaction %d has invalid data: %w", t.ID, err)
		}
	}
	return t, nil
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

func (s *Store) FindSettlement(ctx context.Context, group uuid.UUID, kind ledger.Kind) (*ledger.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findSettlement(ctx, s.db, group, kind)
}

func findSettlement(ctx context.Context, q querier, group uuid.UUID, kind ledger.Kind) (*ledger.Settlement, error) {
	var (
		st                   ledger.Settlement
		status               string
		expenseID            sql.NullInt64
		createdAt, updatedAt string
	)
	err := q.QueryRowContext(ctx,
		"SELECT status, expense_id, created_at, updated_at FROM transaction_settlements WHERE transaction_group = ? AND kind = ?",
		group.String(), string(kind),
	).Scan(&status, &expenseID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query settlement: %w", err)
	}

	st.Group, st.Kind = group, kind
	if st.Status, err = ledger.ParseSettlementStatus(status); err != nil {
		return nil, err
	}
	st.ExpenseID = fromNullInt(expenseID)
	st.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	st.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &st, nil
}

func (s *Store) CreateSettlement(ctx context.Context, st ledger.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createSettlement(ctx, s.db, st)
}

func createSettlement(ctx context.Context, q querier, st ledger.Settlement) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := q.ExecContext(ctx, `
		INSERT INTO transaction_settlements (transaction_group, kind, status, expense_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		st.Group.String(), string(st.Kind), string(st.Status), nullInt(st.ExpenseID), now, now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateSettlement
		}
		return fmt.Errorf("failed to create settlement: %w", err)
	}
	return nil
}

func (s *Store) UpdateSettlementStatus(ctx context.Context, group uuid.UUID, kind ledger.Kind, status ledger.SettlementStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateSettlementStatus(ctx, s.db, group, kind, status)
}

func updateSettlementStatus(ctx context.Context, q querier, group uuid.UUID, kind ledger.Kind, status ledger.SettlementStatus) error {
	current, err := findSettlement(ctx, q, group, kind)
	if err != nil {
		return err
	}
	if current == nil {
		return ledger.ErrSettlementNotFound
	}
	if err := ledger.CheckTransition(group, kind, current.Status, status); err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		"UPDATE transaction_settlements SET status = ?, updated_at = ? WHERE transaction_group = ? AND kind = ?",
		string(status), time.Now().UTC().Format(time.RFC3339Nano), group.String(), string(kind))
	if err != nil {
		return fmt.Errorf("failed to update settlement: %w", err)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs on the open *sql.Tx; the parent's lock is already held.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) CreateDoubleEntry(ctx context.Context, d ledger.Draft) (ledger.Pair, error) {
	return createDoubleEntry(ctx, ts.tx, d)
}

func (ts *txStore) GetTransaction(ctx context.Context, id int64) (*ledger.Transaction, error) {
	return getTransaction(ctx, ts.tx, id)
}

func (ts *txStore) FindByGroupAndKind(ctx context.Context, group uuid.UUID, kind ledger.Kind) ([]ledger.Transaction, error) {
	return findByGroupAndKind(ctx, ts.tx, group, kind)
}

func (ts *txStore) FindByGroup(ctx context.Context, group uuid.UUID) ([]ledger.Transaction, error) {
	return findByGroup(ctx, ts.tx, group)
}

func (ts *txStore) FindTransactionQuad(ctx context.Context, original, refund uuid.UUID, kind ledger.Kind) (ledger.Quad, error) {
	return findTransactionQuad(ctx, ts.tx, original, refund, kind)
}

func (ts *txStore) SetRefundTransactionID(ctx context.Context, id, refundID int64) error {
	return setRefundTransactionID(ctx, ts.tx, id, refundID)
}

func (ts *txStore) UpdateTransactionData(ctx context.Context, id int64, data ledger.Data) error {
	return updateTransactionData(ctx, ts.tx, id, data)
}

func (ts *txStore) FindSettlement(ctx context.Context, group uuid.UUID, kind ledger.Kind) (*ledger.Settlement, error) {
	return findSettlement(ctx, ts.tx, group, kind)
}

func (ts *txStore) CreateSettlement(ctx context.Context, st ledger.Settlement) error {
	return createSettlement(ctx, ts.tx, st)
}

func (ts *txStore) UpdateSettlementStatus(ctx context.Context, group uuid.UUID, kind ledger.Kind, status ledger.SettlementStatus) error {
	return updateSettlementStatus(ctx, ts.tx, group, kind, status)
}

// =============================================================================
// DIRECTORY (fees.DirectoryStore interface)
// =============================================================================

// SaveCollective upserts a collective.
func (s *Store) SaveCollective(ctx context.Context, c fees.Collective) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settingsJSON, err := json.Marshal(c.Settings)
	if err != nil {
		return err
	}
	var planJSON sql.NullString
	if c.Plan != nil {
		b, err := json.Marshal(c.Plan)
		if err != nil {
			return err
		}
		planJSON = sql.NullString{String: string(b), Valid: true}
	}

	query := `
		INSERT INTO collectives (id, slug, name, currency, host_collective_id, parent_collective_id,
			host_fee_percent, settings_json, plan_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			slug = excluded.slug,
			name = excluded.name,
			currency = excluded.currency,
			host_collective_id = excluded.host_collective_id,
			parent_collective_id = excluded.parent_collective_id,
			host_fee_percent = excluded.host_fee_percent,
			settings_json = excluded.settings_json,
			plan_json = excluded.plan_json
	`
	_, err = s.db.ExecContext(ctx, query,
		c.ID, c.Slug, c.Name, c.Currency, nullInt(c.HostCollectiveID), nullInt(c.ParentCollectiveID),
		nullPercent(c.HostFeePercent), string(settingsJSON), planJSON,
	)
	return err
}

// GetCollective retrieves a collective by ID.
func (s *Store) GetCollective(ctx context.Context, id int64) (*fees.Collective, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		c                fees.Collective
		hostID, parentID sql.NullInt64
		hostFeePercent   sql.NullString
		settingsJSON     string
		planJSON         sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, currency, host_collective_id, parent_collective_id,
			host_fee_percent, settings_json, plan_json
		FROM collectives WHERE id = ?`, id,
	).Scan(&c.ID, &c.Slug, &c.Name, &c.Currency, &hostID, &parentID, &hostFeePercent, &settingsJSON, &planJSON)
	if err == sql.ErrNoRows {
		return nil, fees.NotFound("collective", id)
	}
	if err != nil {
		return nil, err
	}

	c.HostCollectiveID = fromNullInt(hostID)
	c.ParentCollectiveID = fromNullInt(parentID)
	if c.HostFeePercent, err = parsePercent(hostFeePercent); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(settingsJSON), &c.Settings); err != nil {
		return nil, fmt.Errorf("collective %d has invalid settings: %w", id, err)
	}
	if planJSON.Valid {
		c.Plan = &fees.HostPlan{}
		if err := json.Unmarshal([]byte(planJSON.String), c.Plan); err != nil {
			return nil, fmt.Errorf("collective %d has invalid plan: %w", id, err)
		}
	}
	return &c, nil
}

// SavePaymentMethod upserts a payment method.
func (s *Store) SavePaymentMethod(ctx context.Context, pm fees.PaymentMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_methods (id, service, type, currency, host_fee_percent)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			service = excluded.service,
			type = excluded.type,
			currency = excluded.currency,
			host_fee_percent = excluded.host_fee_percent`,
		pm.ID, pm.Service, pm.Type, pm.Currency, nullPercent(pm.HostFeePercent),
	)
	return err
}

// GetPaymentMethod retrieves a payment method by ID.
func (s *Store) GetPaymentMethod(ctx context.Context, id int64) (*fees.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		pm      fees.PaymentMethod
		percent sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, service, type, currency, host_fee_percent FROM payment_methods WHERE id = ?", id,
	).Scan(&pm.ID, &pm.Service, &pm.Type, &pm.Currency, &percent)
	if err == sql.ErrNoRows {
		return nil, fees.NotFound("payment method", id)
	}
	if err != nil {
		return nil, err
	}
	if pm.HostFeePercent, err = parsePercent(percent); err != nil {
		return nil, err
	}
	return &pm, nil
}

// SaveOrder upserts an order.
func (s *Store) SaveOrder(ctx context.Context, o fees.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, collective_id, from_collective_id, payment_method_id, currency,
			total_amount, platform_tip_amount, tax_amount, platform_tip_eligible, host_fee_percent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			collective_id = excluded.collective_id,
			from_collective_id = excluded.from_collective_id,
			payment_method_id = excluded.payment_method_id,
			currency = excluded.currency,
			total_amount = excluded.total_amount,
			platform_tip_amount = excluded.platform_tip_amount,
			tax_amount = excluded.tax_amount,
			platform_tip_eligible = excluded.platform_tip_eligible,
			host_fee_percent = excluded.host_fee_percent`,
		o.ID, o.CollectiveID, o.FromCollectiveID, nullInt(o.PaymentMethodID), o.Currency,
		o.TotalAmount, o.PlatformTipAmount, o.TaxAmount, o.PlatformTipEligible, nullPercent(o.HostFeePercent),
	)
	return err
}

// GetOrder retrieves an order by ID.
func (s *Store) GetOrder(ctx context.Context, id int64) (*fees.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		o       fees.Order
		pmID    sql.NullInt64
		percent sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, collective_id, from_collective_id, payment_method_id, currency,
			total_amount, platform_tip_amount, tax_amount, platform_tip_eligible, host_fee_percent
		FROM orders WHERE id = ?`, id,
	).Scan(&o.ID, &o.CollectiveID, &o.FromCollectiveID, &pmID, &o.Currency,
		&o.TotalAmount, &o.PlatformTipAmount, &o.TaxAmount, &o.PlatformTipEligible, &percent)
	if err == sql.ErrNoRows {
		return nil, fees.NotFound("order", id)
	}
	if err != nil {
		return nil, err
	}
	o.PaymentMethodID = fromNullInt(pmID)
	if o.HostFeePercent, err = parsePercent(percent); err != nil {
		return nil, err
	}
	return &o, nil
}

// Reset clears all data (for demo/testing).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"transaction_settlements", "transactions", "orders", "payment_methods", "collectives"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func marshalData(d ledger.Data) (sql.NullString, error) {
	if d == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal data: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func fromNullInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullPercent(p decimal.NullDecimal) sql.NullString {
	if !p.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: p.Decimal.String(), Valid: true}
}

func parsePercent(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid || s.String == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("invalid percent %q: %w", s.String, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY"))
}

var (
	_ ledger.TxStore      = (*Store)(nil)
	_ fees.DirectoryStore = (*Store)(nil)
)
