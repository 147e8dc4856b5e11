// Package store provides an in-memory ledger and directory store.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/ledger-engine/fees"
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	nextID      int64
	rows        map[int64]ledger.Transaction
	settlements map[settlementKey]ledger.Settlement

	collectives    map[int64]fees.Collective
	orders         map[int64]fees.Order
	paymentMethods map[int64]fees.PaymentMethod

	now func() time.Time
}

type settlementKey struct {
	Group uuid.UUID
	Kind  ledger.Kind
}

func NewMemory() *Memory {
	return &Memory{
		rows:           make(map[int64]ledger.Transaction),
		settlements:    make(map[settlementKey]ledger.Settlement),
		collectives:    make(map[int64]fees.Collective),
		orders:         make(map[int64]fees.Order),
		paymentMethods: make(map[int64]fees.PaymentMethod),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// CreateDoubleEntry adds both rows of the draft. Always as a pair.
func (m *Memory) CreateDoubleEntry(_ context.Context, d ledger.Draft) (ledger.Pair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(d), nil
}

func (m *Memory) createLocked(d ledger.Draft) ledger.Pair {
	credit, debit := d.Entries()
	now := m.now()

	// The draft's own row gets the lower id.
	first, second := &credit, &debit
	if d.Amount <= 0 {
		first, second = &debit, &credit
	}
	m.nextID++
	first.ID = m.nextID
	m.nextID++
	second.ID = m.nextID
	credit.CreatedAt, debit.CreatedAt = now, now

	m.rows[credit.ID] = credit
	m.rows[debit.ID] = debit
	return ledger.Pair{Credit: copyTx(credit), Debit: copyTx(debit)}
}

func (m *Memory) GetTransaction(_ context.Context, id int64) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id), nil
}

func (m *Memory) getLocked(id int64) *ledger.Transaction {
	t, ok := m.rows[id]
	if !ok {
		return nil
	}
	return copyTx(t)
}

func (m *Memory) FindByGroupAndKind(_ context.Context, group uuid.UUID, kind ledger.Kind) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(t ledger.Transaction) bool { return t.Group == group && t.Kind == kind }), nil
}

func (m *Memory) FindByGroup(_ context.Context, group uuid.UUID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(t ledger.Transaction) bool { return t.Group == group }), nil
}

func (m *Memory) FindTransactionQuad(_ context.Context, original, refund uuid.UUID, kind ledger.Kind) (ledger.Quad, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.quadLocked(original, refund, kind), nil
}

func (m *Memory) quadLocked(original, refund uuid.UUID, kind ledger.Kind) ledger.Quad {
	rows := m.filterLocked(func(t ledger.Transaction) bool {
		return t.Kind == kind && (t.Group == original || t.Group == refund)
	})
	return ledger.QuadFrom(rows, original, refund)
}

func (m *Memory) filterLocked(keep func(ledger.Transaction) bool) []ledger.Transaction {
	var result []ledger.Transaction
	for _, t := range m.rows {
		if keep(t) {
			result = append(result, *copyTx(t))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// SetRefundTransactionID is a compare-and-set under the write lock.
func (m *Memory) SetRefundTransactionID(_ context.Context, id, refundID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setRefundLocked(id, refundID)
}

func (m *Memory) setRefundLocked(id, refundID int64) error {
	t, ok := m.rows[id]
	if !ok {
		return ledger.ErrTransactionNotFound
	}
	if t.RefundTransactionID != nil {
		return ledger.ErrAlreadyRefunded
	}
	t.RefundTransactionID = &refundID
	m.rows[id] = t
	return nil
}

func (m *Memory) UpdateTransactionData(_ context.Context, id int64, data ledger.Data) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateDataLocked(id, data)
}

func (m *Memory) updateDataLocked(id int64, data ledger.Data) error {
	t, ok := m.rows[id]
	if !ok {
		return ledger.ErrTransactionNotFound
	}
	t.Data = data.Clone()
	m.rows[id] = t
	return nil
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

func (m *Memory) FindSettlement(_ context.Context, group uuid.UUID, kind ledger.Kind) (*ledger.Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findSettlementLocked(group, kind), nil
}

func (m *Memory) findSettlementLocked(group uuid.UUID, kind ledger.Kind) *ledger.Settlement {
	s, ok := m.settlements[settlementKey{Group: group, Kind: kind}]
	if !ok {
		return nil
	}
	return &s
}

func (m *Memory) CreateSettlement(_ context.Context, s ledger.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createSettlementLocked(s)
}

func (m *Memory) createSettlementLocked(s ledger.Settlement) error {
	k := settlementKey{Group: s.Group, Kind: s.Kind}
	if _, exists := m.settlements[k]; exists {
		return ledger.ErrDuplicateSettlement
	}
	now := m.now()
	s.CreatedAt, s.UpdatedAt = now, now
	m.settlements[k] = s
	return nil
}

func (m *Memory) UpdateSettlementStatus(_ context.Context, group uuid.UUID, kind ledger.Kind, status ledger.SettlementStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateSettlementLocked(group, kind, status)
}

func (m *Memory) updateSettlementLocked(group uuid.UUID, kind ledger.Kind, status ledger.SettlementStatus) error {
	k := settlementKey{Group: group, Kind: kind}
	s, ok := m.settlements[k]
	if !ok {
		return ledger.ErrSettlementNotFound
	}
	if err := ledger.CheckTransition(group, kind, s.Status, status); err != nil {
		return err
	}
	s.Status = status
	s.UpdatedAt = m.now()
	m.settlements[k] = s
	return nil
}

// =============================================================================
// DIRECTORY (fees.DirectoryStore)
// =============================================================================

func (m *Memory) GetCollective(_ context.Context, id int64) (*fees.Collective, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collectives[id]
	if !ok {
		return nil, fees.NotFound("collective", id)
	}
	return &c, nil
}

func (m *Memory) GetOrder(_ context.Context, id int64) (*fees.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, fees.NotFound("order", id)
	}
	return &o, nil
}

func (m *Memory) GetPaymentMethod(_ context.Context, id int64) (*fees.PaymentMethod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pm, ok := m.paymentMethods[id]
	if !ok {
		return nil, fees.NotFound("payment method", id)
	}
	return &pm, nil
}

func (m *Memory) SaveCollective(_ context.Context, c fees.Collective) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collectives[c.ID] = c
	return nil
}

func (m *Memory) SaveOrder(_ context.Context, o fees.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.Collective, o.PaymentMethod = nil, nil
	m.orders[o.ID] = o
	return nil
}

func (m *Memory) SavePaymentMethod(_ context.Context, pm fees.PaymentMethod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paymentMethods[pm.ID] = pm
	return nil
}

func copyTx(t ledger.Transaction) *ledger.Transaction {
	t.Data = t.Data.Clone()
	if t.RefundTransactionID != nil {
		id := *t.RefundTransactionID
		t.RefundTransactionID = &id
	}
	return &t
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	rows := make(map[int64]ledger.Transaction, len(tm.rows))
	for k, v := range tm.rows {
		rows[k] = v
	}
	settlements := make(map[settlementKey]ledger.Settlement, len(tm.settlements))
	for k, v := range tm.settlements {
		settlements[k] = v
	}
	return memorySnapshot{nextID: tm.nextID, rows: rows, settlements: settlements}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.nextID = s.nextID
	tm.rows = s.rows
	tm.settlements = s.settlements
}

type memorySnapshot struct {
	nextID      int64
	rows        map[int64]ledger.Transaction
	settlements map[settlementKey]ledger.Settlement
}

// txMemoryView runs with the parent's lock already held.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) CreateDoubleEntry(_ context.Context, d ledger.Draft) (ledger.Pair, error) {
	return tv.parent.createLocked(d), nil
}

func (tv *txMemoryView) GetTransaction(_ context.Context, id int64) (*ledger.Transaction, error) {
	return tv.parent.getLocked(id), nil
}

func (tv *txMemoryView) FindByGroupAndKind(_ context.Context, group uuid.UUID, kind ledger.Kind) ([]ledger.Transaction, error) {
	return tv.parent.filterLocked(func(t ledger.Transaction) bool { return t.Group == group && t.Kind == kind }), nil
}

func (tv *txMemoryView) FindByGroup(_ context.Context, group uuid.UUID) ([]ledger.Transaction, error) {
	return tv.parent.filterLocked(func(t ledger.Transaction) bool { return t.Group == group }), nil
}

func (tv *txMemoryView) FindTransactionQuad(_ context.Context, original, refund uuid.UUID, kind ledger.Kind) (ledger.Quad, error) {
	return tv.parent.quadLocked(original, refund, kind), nil
}

func (tv *txMemoryView) SetRefundTransactionID(_ context.Context, id, refundID int64) error {
	return tv.parent.setRefundLocked(id, refundID)
}

func (tv *txMemoryView) UpdateTransactionData(_ context.Context, id int64, data ledger.Data) error {
	return tv.parent.updateDataLocked(id, data)
}

func (tv *txMemoryView) FindSettlement(_ context.Context, group uuid.UUID, kind ledger.Kind) (*ledger.Settlement, error) {
	return tv.parent.findSettlementLocked(group, kind), nil
}

func (tv *txMemoryView) CreateSettlement(_ context.Context, s ledger.Settlement) error {
	return tv.parent.createSettlementLocked(s)
}

func (tv *txMemoryView) UpdateSettlementStatus(_ context.Context, group uuid.UUID, kind ledger.Kind, status ledger.SettlementStatus) error {
	return tv.parent.updateSettlementLocked(group, kind, status)
}

var (
	_ ledger.TxStore      = (*TxMemory)(nil)
	_ fees.DirectoryStore = (*Memory)(nil)
)
