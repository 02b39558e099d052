package store

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_store/internal/domain"
	"github.com/fjod/go_store/internal/repository"
	"github.com/google/uuid"
)

// data is everything the store holds; an atomic scope snapshots and restores it
type data struct {
	variants      map[domain.VariantKey]domain.ProductVariant
	orders        map[int]*domain.Order
	payments      []*domain.PaymentTransaction
	receipts      map[string]*domain.InventoryReceipt
	outbox        []*repository.OutboxEvent
	nextOrderID   int64
	nextPaymentID int64
}

func newData() *data {
	return &data{
		variants: make(map[domain.VariantKey]domain.ProductVariant),
		orders:   make(map[int]*domain.Order),
		receipts: make(map[string]*domain.InventoryReceipt),
	}
}

func (d *data) clone() *data {
	c := &data{
		variants:      make(map[domain.VariantKey]domain.ProductVariant, len(d.variants)),
		orders:        make(map[int]*domain.Order, len(d.orders)),
		payments:      make([]*domain.PaymentTransaction, len(d.payments)),
		receipts:      make(map[string]*domain.InventoryReceipt, len(d.receipts)),
		outbox:        make([]*repository.OutboxEvent, len(d.outbox)),
		nextOrderID:   d.nextOrderID,
		nextPaymentID: d.nextPaymentID,
	}
	for k, v := range d.variants {
		c.variants[k] = v
	}
	for k, o := range d.orders {
		c.orders[k] = copyOrder(o)
	}
	for i, p := range d.payments {
		cp := *p
		c.payments[i] = &cp
	}
	for k, r := range d.receipts {
		cr := *r
		cr.Lines = append([]domain.StockEntry(nil), r.Lines...)
		c.receipts[k] = &cr
	}
	for i, e := range d.outbox {
		ce := *e
		c.outbox[i] = &ce
	}
	return c
}

func copyOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return &c
}

// MemoryStore implements repository.Store in memory. A RunAtomic scope holds
// the store lock for its whole duration, so scopes are serialized and a
// failed scope is undone by restoring the snapshot taken when it began.
type MemoryStore struct {
	mu     *sync.Mutex
	data   *data
	scoped bool
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu:   &sync.Mutex{},
		data: newData(),
		now:  time.Now,
	}
}

var _ repository.Store = (*MemoryStore)(nil)

// lock is a no-op inside a scope, which already holds the mutex
func (s *MemoryStore) lock() func() {
	if s.scoped {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemoryStore) RunAtomic(ctx context.Context, work func(tx repository.Store) error) error {
	if s.scoped {
		return work(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := s.data.clone()
	tx := &MemoryStore{mu: s.mu, data: s.data, scoped: true, now: s.now}
	if err := work(tx); err != nil {
		*s.data = *snapshot
		return repository.ScopeError("work", err)
	}
	return nil
}

// --- catalog ---

func (s *MemoryStore) GetVariant(ctx context.Context, key domain.VariantKey) (*domain.ProductVariant, error) {
	defer s.lock()()

	v, ok := s.data.variants[key]
	if !ok {
		return nil, domain.ErrVariantNotFound
	}
	return &v, nil
}

// LockVariant has nothing more to do than GetVariant: every scope already
// runs alone.
func (s *MemoryStore) LockVariant(ctx context.Context, key domain.VariantKey) (*domain.ProductVariant, error) {
	return s.GetVariant(ctx, key)
}

func (s *MemoryStore) DeductStock(ctx context.Context, key domain.VariantKey, qty int32) (bool, error) {
	defer s.lock()()

	v, ok := s.data.variants[key]
	if !ok || v.Quantity < qty {
		return false, nil
	}
	v.Quantity -= qty
	s.data.variants[key] = v
	return true, nil
}

func (s *MemoryStore) AddStock(ctx context.Context, key domain.VariantKey, qty int32) error {
	defer s.lock()()

	v, ok := s.data.variants[key]
	if !ok {
		return domain.ErrVariantNotFound
	}
	if int64(v.Quantity)+int64(qty) > math.MaxInt32 {
		return domain.StockOverflowError(key)
	}
	v.Quantity += qty
	s.data.variants[key] = v
	return nil
}

func (s *MemoryStore) UpsertVariant(ctx context.Context, v *domain.ProductVariant) error {
	defer s.lock()()

	s.data.variants[v.Key()] = *v
	return nil
}

func (s *MemoryStore) ListLowStock(ctx context.Context, threshold int32) ([]domain.ProductVariant, error) {
	defer s.lock()()

	var out []domain.ProductVariant
	for _, v := range s.data.variants {
		if v.Active && v.Quantity < threshold {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Quantity != out[j].Quantity {
			return out[i].Quantity < out[j].Quantity
		}
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].CapacityID < out[j].CapacityID
	})
	return out, nil
}

// --- orders ---

func (s *MemoryStore) OrderCodeExists(ctx context.Context, code int) (bool, error) {
	defer s.lock()()

	_, ok := s.data.orders[code]
	return ok, nil
}

func (s *MemoryStore) CreateOrder(ctx context.Context, order *domain.Order) error {
	defer s.lock()()

	if _, ok := s.data.orders[order.OrderCode]; ok {
		return repository.ErrDuplicateOrderCode
	}
	if order.IdempotencyKey != "" {
		for _, o := range s.data.orders {
			if o.IdempotencyKey == order.IdempotencyKey {
				return repository.ErrDuplicateIdempotencyKey
			}
		}
	}

	s.data.nextOrderID++
	now := s.now()
	order.ID = s.data.nextOrderID
	order.CreatedAt = now
	order.UpdatedAt = now
	for i := range order.Lines {
		order.Lines[i].OrderCode = order.OrderCode
	}
	s.data.orders[order.OrderCode] = copyOrder(order)
	return nil
}

func (s *MemoryStore) GetOrderByCode(ctx context.Context, code int) (*domain.Order, error) {
	defer s.lock()()

	o, ok := s.data.orders[code]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (s *MemoryStore) LockOrder(ctx context.Context, code int) (*domain.Order, error) {
	return s.GetOrderByCode(ctx, code)
}

func (s *MemoryStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	defer s.lock()()

	for _, o := range s.data.orders {
		if key != "" && o.IdempotencyKey == key {
			return copyOrder(o), nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (s *MemoryStore) ListOrdersByAccount(ctx context.Context, accountID int64) ([]*domain.Order, error) {
	defer s.lock()()

	var out []*domain.Order
	for _, o := range s.data.orders {
		if o.AccountID == accountID {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) UpdateOrderStatus(ctx context.Context, code int, from, to domain.OrderStatus) error {
	defer s.lock()()

	o, ok := s.data.orders[code]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if o.Status != from {
		return domain.ErrIllegalTransition
	}
	o.Status = to
	o.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) UpdateOrderType(ctx context.Context, code int, orderType domain.OrderType) error {
	defer s.lock()()

	o, ok := s.data.orders[code]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o.OrderType = orderType
	o.UpdatedAt = s.now()
	return nil
}

// --- payments ---

func (s *MemoryStore) hasSuccess(code int, exceptID int64) bool {
	for _, p := range s.data.payments {
		if p.OrderCode == code && p.Status == domain.PaymentStatusSuccess && p.ID != exceptID {
			return true
		}
	}
	return false
}

func (s *MemoryStore) CreatePaymentTransaction(ctx context.Context, txn *domain.PaymentTransaction) error {
	defer s.lock()()

	if txn.Status == domain.PaymentStatusSuccess && s.hasSuccess(txn.OrderCode, 0) {
		return repository.ErrDuplicateSuccessfulCharge
	}

	s.data.nextPaymentID++
	now := s.now()
	txn.ID = s.data.nextPaymentID
	txn.CreatedAt = now
	txn.UpdatedAt = now
	cp := *txn
	s.data.payments = append(s.data.payments, &cp)
	return nil
}

func (s *MemoryStore) LatestPaymentTransaction(ctx context.Context, code int, provider string, status domain.PaymentStatus) (*domain.PaymentTransaction, error) {
	defer s.lock()()

	// payments are appended in creation order
	for i := len(s.data.payments) - 1; i >= 0; i-- {
		p := s.data.payments[i]
		if p.OrderCode == code && p.Status == status && (provider == "" || p.Provider == provider) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (s *MemoryStore) ListPaymentTransactions(ctx context.Context, code int) ([]*domain.PaymentTransaction, error) {
	defer s.lock()()

	var out []*domain.PaymentTransaction
	for _, p := range s.data.payments {
		if p.OrderCode == code {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdatePaymentTransaction(ctx context.Context, upd repository.PaymentUpdate) error {
	defer s.lock()()

	for _, p := range s.data.payments {
		if p.ID != upd.ID {
			continue
		}
		if p.Status != upd.From {
			return repository.ErrStaleStatus
		}
		if upd.To == domain.PaymentStatusSuccess && s.hasSuccess(p.OrderCode, p.ID) {
			return repository.ErrDuplicateSuccessfulCharge
		}
		p.Status = upd.To
		if upd.TransactionID != "" {
			p.TransactionID = upd.TransactionID
		}
		if upd.Provider != "" {
			p.Provider = upd.Provider
		}
		if upd.Payload != "" {
			p.ProviderPayload = upd.Payload
		}
		p.UpdatedAt = s.now()
		return nil
	}
	return domain.ErrPaymentNotFound
}

// --- inventory receipts ---

func (s *MemoryStore) CreateInventoryReceipt(ctx context.Context, receipt *domain.InventoryReceipt) error {
	defer s.lock()()

	if _, ok := s.data.receipts[receipt.Code]; ok {
		return repository.ErrDuplicateReceipt
	}
	receipt.CreatedAt = s.now()
	cp := *receipt
	cp.Lines = append([]domain.StockEntry(nil), receipt.Lines...)
	s.data.receipts[receipt.Code] = &cp
	return nil
}

// --- outbox ---

func (s *MemoryStore) InsertOutboxEvent(ctx context.Context, event *repository.OutboxEvent) error {
	defer s.lock()()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.CreatedAt = s.now()
	cp := *event
	s.data.outbox = append(s.data.outbox, &cp)
	return nil
}

func (s *MemoryStore) GetUnprocessedEvents(ctx context.Context, limit int) ([]*repository.OutboxEvent, error) {
	defer s.lock()()

	var out []*repository.OutboxEvent
	for _, e := range s.data.outbox {
		if e.ProcessedAt != nil {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkEventAsProcessed(ctx context.Context, id uuid.UUID) error {
	defer s.lock()()

	for _, e := range s.data.outbox {
		if e.ID == id {
			now := s.now()
			e.ProcessedAt = &now
			return nil
		}
	}
	return nil
}
