/*
Package postgres provides a PostgreSQL implementation of the ledger storage.

PURPOSE:
  Same contract as store/sqlite (ledger.TxStore and fees.DirectoryStore) on
  pgx/v5. Used in production; the sqlite store backs local runs and tests.

TYPES:
  - FX rates and percents are NUMERIC, read back as text into decimal
  - transaction_group is UUID, passed as text
  - data is JSONB

CONCURRENCY:
  No process-level lock. The refund link is a compare-and-set
  (refund_transaction_id IS NULL), and WithTx runs the cascade in one
  database transaction.

SEE ALSO:
  - store/sqlite/sqlite.go
  - ledger/store.go
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/fees"
	"github.com/warp/ledger-engine/ledger"
)

// querier is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is the pool surface the store needs.
type DB interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements ledger.TxStore and fees.DirectoryStore.
type Store struct {
	conn
	db     DB
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to dsn and pings the server.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	s := NewWithDB(pool, logger)
	s.pool = pool
	return s, nil
}

// NewWithDB wraps an existing pool (or a pgxmock pool in tests).
func NewWithDB(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		conn:   conn{q: db},
		db:     db,
		logger: logger.With("component", "ledger_store_pg"),
	}
}

// Close releases the pool when the store owns it.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Schema is applied by Migrate.
const Schema = `
CREATE TABLE IF NOT EXISTS transactions (
	id BIGSERIAL PRIMARY KEY,
	transaction_group UUID NOT NULL,
	kind TEXT NOT NULL,
	type TEXT NOT NULL CHECK (type IN ('CREDIT', 'DEBIT')),
	description TEXT NOT NULL DEFAULT '',
	collective_id BIGINT NOT NULL,
	from_collective_id BIGINT NOT NULL,
	host_collective_id BIGINT,
	currency TEXT NOT NULL,
	amount BIGINT NOT NULL,
	net_amount_in_collective_currency BIGINT NOT NULL,
	host_currency TEXT NOT NULL,
	host_currency_fx_rate NUMERIC NOT NULL,
	amount_in_host_currency BIGINT NOT NULL,
	host_fee_in_host_currency BIGINT NOT NULL DEFAULT 0,
	platform_fee_in_host_currency BIGINT NOT NULL DEFAULT 0,
	payment_processor_fee_in_host_currency BIGINT NOT NULL DEFAULT 0,
	tax_amount BIGINT NOT NULL DEFAULT 0,
	is_refund BOOLEAN NOT NULL DEFAULT FALSE,
	is_debt BOOLEAN NOT NULL DEFAULT FALSE,
	refund_transaction_id BIGINT REFERENCES transactions(id),
	order_id BIGINT,
	expense_id BIGINT,
	payment_method_id BIGINT,
	payout_method_id BIGINT,
	created_by_user_id BIGINT,
	data JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_group_kind_type ON transactions (transaction_group, kind, type);
CREATE INDEX IF NOT EXISTS idx_transactions_order ON transactions (order_id) WHERE order_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS transaction_settlements (
	transaction_group UUID NOT NULL,
	kind TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('OWED', 'INVOICED', 'SETTLED')),
	expense_id BIGINT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (transaction_group, kind)
);

CREATE TABLE IF NOT EXISTS collectives (
	id BIGINT PRIMARY KEY,
	slug TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	currency TEXT NOT NULL,
	host_collective_id BIGINT,
	parent_collective_id BIGINT,
	host_fee_percent NUMERIC,
	settings JSONB NOT NULL DEFAULT '{}',
	plan JSONB
);

CREATE TABLE IF NOT EXISTS payment_methods (
	id BIGINT PRIMARY KEY,
	service TEXT NOT NULL,
	type TEXT NOT NULL,
	currency TEXT NOT NULL DEFAULT '',
	host_fee_percent NUMERIC
);

CREATE TABLE IF NOT EXISTS orders (
	id BIGINT PRIMARY KEY,
	collective_id BIGINT NOT NULL,
	from_collective_id BIGINT NOT NULL,
	payment_method_id BIGINT,
	currency TEXT NOT NULL,
	total_amount BIGINT NOT NULL,
	platform_tip_amount BIGINT NOT NULL DEFAULT 0,
	tax_amount BIGINT NOT NULL DEFAULT 0,
	platform_tip_eligible BOOLEAN NOT NULL DEFAULT FALSE,
	host_fee_percent NUMERIC
);
`

// Migrate creates the tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate postgres schema: %w", err)
	}
	return nil
}

// CreateDoubleEntry writes both rows in their own database transaction.
func (s *Store) CreateDoubleEntry(ctx context.Context, d ledger.Draft) (ledger.Pair, error) {
	var pair ledger.Pair
	err := s.WithTx(ctx, func(st ledger.Store) error {
		var err error
		pair, err = st.CreateDoubleEntry(ctx, d)
		return err
	})
	return pair, err
}

// WithTx runs fn inside BEGIN/COMMIT. Any error rolls everything back.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txStore{conn: conn{q: tx}}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txStore is the ledger.Store view of an open pgx.Tx.
type txStore struct {
	conn
}

func (ts *txStore) CreateDoubleEntry(ctx context.Context, d ledger.Draft) (ledger.Pair, error) {
	return ts.createPair(ctx, d)
}

// =============================================================================
// QUERIES (shared by Store and txStore)
// =============================================================================

type conn struct {
	q querier
}

const txColumns = `id, transaction_group::text, kind, type, description,
	collective_id, from_collective_id, host_collective_id,
	currency, amount, net_amount_in_collective_currency,
	host_currency, host_currency_fx_rate::text, amount_in_host_currency,
	host_fee_in_host_currency, platform_fee_in_host_currency,
	payment_processor_fee_in_host_currency, tax_amount,
	is_refund, is_debt, refund_transaction_id,
	order_id, expense_id, payment_method_id, payout_method_id,
	created_by_user_id, data, created_at`

const insertTransactionSQL = `
	INSERT INTO transactions
	(transaction_group, kind, type, description,
	 collective_id, from_collective_id, host_collective_id,
	 currency, amount, net_amount_in_collective_currency,
	 host_currency, host_currency_fx_rate, amount_in_host_currency,
	 host_fee_in_host_currency, platform_fee_in_host_currency,
	 payment_processor_fee_in_host_currency, tax_amount,
	 is_refund, is_debt,
	 order_id, expense_id, payment_method_id, payout_method_id,
	 created_by_user_id, data)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::numeric, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	RETURNING id, created_at`

func (c conn) createPair(ctx context.Context, d ledger.Draft) (ledger.Pair, error) {
	credit, debit := d.Entries()
	first, second := &credit, &debit
	if d.Amount <= 0 {
		first, second = &debit, &credit
	}
	for _, row := range []*ledger.Transaction{first, second} {
		if err := c.insert(ctx, row); err != nil {
			return ledger.Pair{}, err
		}
	}
	return ledger.Pair{Credit: &credit, Debit: &debit}, nil
}

func (c conn) insert(ctx context.Context, t *ledger.Transaction) error {
	data, err := marshalData(t.Data)
	if err != nil {
		return err
	}
	err = c.q.QueryRow(ctx, insertTransactionSQL,
		t.Group.String(), string(t.Kind), string(t.Type), t.Description,
		t.CollectiveID, t.FromCollectiveID, t.HostCollectiveID,
		t.Currency, t.Amount, t.NetAmountInCollectiveCurrency,
		t.HostCurrency, t.HostCurrencyFxRate.String(), t.AmountInHostCurrency,
		t.HostFeeInHostCurrency, t.PlatformFeeInHostCurrency,
		t.PaymentProcessorFeeInHostCurrency, t.TaxAmount,
		t.IsRefund, t.IsDebt,
		t.OrderID, t.ExpenseID, t.PaymentMethodID, t.PayoutMethodID,
		t.CreatedByUserID, data,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert %s %s: %w", t.Kind, t.Type, err)
	}
	return nil
}

func (c conn) GetTransaction(ctx context.Context, id int64) (*ledger.Transaction, error) {
	t, err := scanTransaction(c.q.QueryRow(ctx, "SELECT "+txColumns+" FROM transactions WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (c conn) FindByGroupAndKind(ctx context.Context, group uuid.UUID, kind ledger.Kind) ([]ledger.Transaction, error) {
	return c.queryTransactions(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE transaction_group = $1 AND kind = $2 ORDER BY id",
		group.String(), string(kind))
}

func (c conn) FindByGroup(ctx context.Context, group uuid.UUID) ([]ledger.Transaction, error) {
	return c.queryTransactions(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE transaction_group = $1 ORDER BY id",
		group.String())
}

func (c conn) FindTransactionQuad(ctx context.Context, original, refund uuid.UUID, kind ledger.Kind) (ledger.Quad, error) {
	rows, err := c.queryTransactions(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE kind = $1 AND transaction_group IN ($2, $3) ORDER BY id",
		string(kind), original.String(), refund.String())
	if err != nil {
		return ledger.Quad{}, err
	}
	return ledger.QuadFrom(rows, original, refund), nil
}

// SetRefundTransactionID is a compare-and-set on a NULL refund link.
func (c conn) SetRefundTransactionID(ctx context.Context, id, refundID int64) error {
	tag, err := c.q.Exec(ctx,
		"UPDATE transactions SET refund_transaction_id = $1 WHERE id = $2 AND refund_transaction_id IS NULL",
		refundID, id)
	if err != nil {
		return fmt.Errorf("failed to link transaction %d: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := c.q.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM transactions WHERE id = $1)", id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ledger.ErrTransactionNotFound
	}
	return ledger.ErrAlreadyRefunded
}

func (c conn) UpdateTransactionData(ctx context.Context, id int64, data ledger.Data) error {
	payload, err := marshalData(data)
	if err != nil {
		return err
	}
	tag, err := c.q.Exec(ctx, "UPDATE transactions SET data = $1 WHERE id = $2", payload, id)
	if err != nil {
		return fmt.Errorf("failed to update data of transaction %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrTransactionNotFound
	}
	return nil
}

func (c conn) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := c.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(row pgx.Row) (ledger.Transaction, error) {
	var (
		t      ledger.Transaction
		group  string
		kind   string
		typ    string
		fxRate string
		data   []byte
	)
	err := row.Scan(
		&t.ID, &group, &kind, &typ, &t.Description,
		&t.CollectiveID, &t.FromCollectiveID, &t.HostCollectiveID,
		&t.Currency, &t.Amount, &t.NetAmountInCollectiveCurrency,
		&t.HostCurrency, &fxRate, &t.AmountInHostCurrency,
		&t.HostFeeInHostCurrency, &t.PlatformFeeInHostCurrency,
		&t.PaymentProcessorFeeInHostCurrency, &t.TaxAmount,
		&t.IsRefund, &t.IsDebt, &t.RefundTransactionID,
		&t.OrderID, &t.ExpenseID, &t.PaymentMethodID, &t.PayoutMethodID,
		&t.CreatedByUserID, &data, &t.CreatedAt,
	)
	if err != nil {
		return t, err
	}
	if t.Group, err = uuid.Parse(group); err != nil {
		return t, fmt.Errorf("transaction %d has invalid group %q: %w", t.ID, group, err)
	}
	t.Kind, t.Type = ledger.Kind(kind), ledger.Type(typ)
	if t.HostCurrencyFxRate, err = decimal.NewFromString(fxRate); err != nil {
		return t, fmt.Errorf("transaction %d has invalid fx rate %q: %w", t.ID, fxRate, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &t.Data); err != nil {
			return t, fmt.Errorf("transaction %d has invalid data: %w", t.ID, err)
		}
	}
	return t, nil
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

func (c conn) FindSettlement(ctx context.Context, group uuid.UUID, kind ledger.Kind) (*ledger.Settlement, error) {
	st := ledger.Settlement{Group: group, Kind: kind}
	var status string
	err := c.q.QueryRow(ctx,
		"SELECT status, expense_id, created_at, updated_at FROM transaction_settlements WHERE transaction_group = $1 AND kind = $2",
		group.String(), string(kind),
	).Scan(&status, &st.ExpenseID, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query settlement: %w", err)
	}
	if st.Status, err = ledger.ParseSettlementStatus(status); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c conn) CreateSettlement(ctx context.Context, st ledger.Settlement) error {
	_, err := c.q.Exec(ctx,
		"INSERT INTO transaction_settlements (transaction_group, kind, status, expense_id) VALUES ($1, $2, $3, $4)",
		st.Group.String(), string(st.Kind), string(st.Status), st.ExpenseID)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrDuplicateSettlement
		}
		return fmt.Errorf("failed to create settlement: %w", err)
	}
	return nil
}

func (c conn) UpdateSettlementStatus(ctx context.Context, group uuid.UUID, kind ledger.Kind, status ledger.SettlementStatus) error {
	current, err := c.FindSettlement(ctx, group, kind)
	if err != nil {
		return err
	}
	if current == nil {
		return ledger.ErrSettlementNotFound
	}
	if err := ledger.CheckTransition(group, kind, current.Status, status); err != nil {
		return err
	}
	_, err = c.q.Exec(ctx,
		"UPDATE transaction_settlements SET status = $1, updated_at = now() WHERE transaction_group = $2 AND kind = $3",
		string(status), group.String(), string(kind))
	if err != nil {
		return fmt.Errorf("failed to update settlement: %w", err)
	}
	return nil
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (c conn) SaveCollective(ctx context.Context, col fees.Collective) error {
	settings, err := json.Marshal(col.Settings)
	if err != nil {
		return err
	}
	var plan []byte
	if col.Plan != nil {
		if plan, err = json.Marshal(col.Plan); err != nil {
			return err
		}
	}
	_, err = c.q.Exec(ctx, `
		INSERT INTO collectives (id, slug, name, currency, host_collective_id, parent_collective_id, host_fee_percent, settings, plan)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			slug = EXCLUDED.slug,
			name = EXCLUDED.name,
			currency = EXCLUDED.currency,
			host_collective_id = EXCLUDED.host_collective_id,
			parent_collective_id = EXCLUDED.parent_collective_id,
			host_fee_percent = EXCLUDED.host_fee_percent,
			settings = EXCLUDED.settings,
			plan = EXCLUDED.plan`,
		col.ID, col.Slug, col.Name, col.Currency, col.HostCollectiveID, col.ParentCollectiveID,
		percentArg(col.HostFeePercent), settings, plan)
	if err != nil {
		return fmt.Errorf("failed to save collective %d: %w", col.ID, err)
	}
	return nil
}

func (c conn) GetCollective(ctx context.Context, id int64) (*fees.Collective, error) {
	var (
		col            fees.Collective
		hostFeePercent *string
		settings, plan []byte
	)
	err := c.q.QueryRow(ctx, `
		SELECT id, slug, name, currency, host_collective_id, parent_collective_id, host_fee_percent::text, settings, plan
		FROM collectives WHERE id = $1`, id,
	).Scan(&col.ID, &col.Slug, &col.Name, &col.Currency, &col.HostCollectiveID, &col.ParentCollectiveID,
		&hostFeePercent, &settings, &plan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fees.NotFound("collective", id)
	}
	if err != nil {
		return nil, err
	}
	if col.HostFeePercent, err = parsePercent(hostFeePercent); err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &col.Settings); err != nil {
			return nil, fmt.Errorf("collective %d has invalid settings: %w", id, err)
		}
	}
	if len(plan) > 0 {
		col.Plan = &fees.HostPlan{}
		if err := json.Unmarshal(plan, col.Plan); err != nil {
			return nil, fmt.Errorf("collective %d has invalid plan: %w", id, err)
		}
	}
	return &col, nil
}

func (c conn) SavePaymentMethod(ctx context.Context, pm fees.PaymentMethod) error {
	_, err := c.q.Exec(ctx, `
		INSERT INTO payment_methods (id, service, type, currency, host_fee_percent)
		VALUES ($1, $2, $3, $4, $5::numeric)
		ON CONFLICT (id) DO UPDATE SET
			service = EXCLUDED.service,
			type = EXCLUDED.type,
			currency = EXCLUDED.currency,
			host_fee_percent = EXCLUDED.host_fee_percent`,
		pm.ID, pm.Service, pm.Type, pm.Currency, percentArg(pm.HostFeePercent))
	if err != nil {
		return fmt.Errorf("failed to save payment method %d: %w", pm.ID, err)
	}
	return nil
}

func (c conn) GetPaymentMethod(ctx context.Context, id int64) (*fees.PaymentMethod, error) {
	var (
		pm      fees.PaymentMethod
		percent *string
	)
	err := c.q.QueryRow(ctx,
		"SELECT id, service, type, currency, host_fee_percent::text FROM payment_methods WHERE id = $1", id,
	).Scan(&pm.ID, &pm.Service, &pm.Type, &pm.Currency, &percent)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (c conn) SaveOrder(ctx context.Context, o fees.Order) error {
	_, err := c.q.Exec(ctx, `
		INSERT INTO orders (id, collective_id, from_collective_id, payment_method_id, currency,
			total_amount, platform_tip_amount, tax_amount, platform_tip_eligible, host_fee_percent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric)
		ON CONFLICT (id) DO UPDATE SET
			collective_id = EXCLUDED.collective_id,
			from_collective_id = EXCLUDED.from_collective_id,
			payment_method_id = EXCLUDED.payment_method_id,
			currency = EXCLUDED.currency,
			total_amount = EXCLUDED.total_amount,
			platform_tip_amount = EXCLUDED.platform_tip_amount,
			tax_amount = EXCLUDED.tax_amount,
			platform_tip_eligible = EXCLUDED.platform_tip_eligible,
			host_fee_percent = EXCLUDED.host_fee_percent`,
		o.ID, o.CollectiveID, o.FromCollectiveID, o.PaymentMethodID, o.Currency,
		o.TotalAmount, o.PlatformTipAmount, o.TaxAmount, o.PlatformTipEligible, percentArg(o.HostFeePercent))
	if err != nil {
		return fmt.Errorf("failed to save order %d: %w", o.ID, err)
	}
	return nil
}

func (c conn) GetOrder(ctx context.Context, id int64) (*fees.Order, error) {
	var (
		o       fees.Order
		percent *string
	)
	err := c.q.QueryRow(ctx, `
		SELECT id, collective_id, from_collective_id, payment_method_id, currency,
			total_amount, platform_tip_amount, tax_amount, platform_tip_eligible, host_fee_percent::text
		FROM orders WHERE id = $1`, id,
	).Scan(&o.ID, &o.CollectiveID, &o.FromCollectiveID, &o.PaymentMethodID, &o.Currency,
		&o.TotalAmount, &o.PlatformTipAmount, &o.TaxAmount, &o.PlatformTipEligible, &percent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fees.NotFound("order", id)
	}
	if err != nil {
		return nil, err
	}
	if o.HostFeePercent, err = parsePercent(percent); err != nil {
		return nil, err
	}
	return &o, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func marshalData(d ledger.Data) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data: %w", err)
	}
	return b, nil
}

func percentArg(p decimal.NullDecimal) *string {
	if !p.Valid {
		return nil
	}
	s := p.Decimal.String()
	return &s
}

func parsePercent(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("invalid percent %q: %w", *s, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var (
	_ ledger.TxStore      = (*Store)(nil)
	_ fees.DirectoryStore = (*Store)(nil)
	_ ledger.Store        = (*txStore)(nil)
)
