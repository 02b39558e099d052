package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/go_store/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

const uniqueViolation = "23505"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository is the PostgreSQL Store. The value returned by NewRepository
// runs statements on the pool; the one handed to a RunAtomic work function
// runs them on the open transaction.
type Repository struct {
	db     *sql.DB
	q      querier
	tx     *sql.Tx
	logger zerolog.Logger
}

func NewRepository(cred *Credentials, logger zerolog.Logger) (*Repository, error) {
	sslMode := cred.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName,
		sslMode)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	logger.Info().Str("host", cred.Host).Str("db", cred.DBName).Msg("connected to postgres")
	return &Repository{db: db, q: db, logger: logger}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "store_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) RunAtomic(ctx context.Context, work func(tx Store) error) error {
	if r.tx != nil {
		return work(r)
	}

	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.TransactionError{Op: "begin", Err: err}
	}
	scoped := &Repository{db: r.db, q: sqlTx, tx: sqlTx, logger: r.logger}

	if err := work(scoped); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.logger.Error().Err(rbErr).Msg("rollback failed")
		}
		return ScopeError("work", err)
	}

	if err := sqlTx.Commit(); err != nil {
		return &domain.TransactionError{Op: "commit", Err: err}
	}
	return nil
}

// --- catalog ---

const variantColumns = `product_id, capacity_id, name, price, sale_percent, quantity, active`

func scanVariant(row interface{ Scan(...any) error }) (*domain.ProductVariant, error) {
	var v domain.ProductVariant
	if err := row.Scan(&v.ProductID, &v.CapacityID, &v.Name, &v.Price, &v.SalePercent, &v.Quantity, &v.Active); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Repository) GetVariant(ctx context.Context, key domain.VariantKey) (*domain.ProductVariant, error) {
	return r.getVariant(ctx, key, "")
}

func (r *Repository) LockVariant(ctx context.Context, key domain.VariantKey) (*domain.ProductVariant, error) {
	return r.getVariant(ctx, key, " FOR UPDATE")
}

func (r *Repository) getVariant(ctx context.Context, key domain.VariantKey, suffix string) (*domain.ProductVariant, error) {
	query := `SELECT ` + variantColumns + ` FROM product_variants
	          WHERE product_id = $1 AND capacity_id = $2` + suffix

	v, err := scanVariant(r.q.QueryRowContext(ctx, query, key.ProductID, key.CapacityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrVariantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query variant: %w", err)
	}
	return v, nil
}

func (r *Repository) DeductStock(ctx context.Context, key domain.VariantKey, qty int32) (bool, error) {
	query := `UPDATE product_variants SET quantity = quantity - $3, updated_at = NOW()
	          WHERE product_id = $1 AND capacity_id = $2 AND quantity >= $3`

	res, err := r.q.ExecContext(ctx, query, key.ProductID, key.CapacityID, qty)
	if err != nil {
		return false, fmt.Errorf("deduct stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deduct stock: %w", err)
	}
	return n == 1, nil
}

func (r *Repository) AddStock(ctx context.Context, key domain.VariantKey, qty int32) error {
	query := `UPDATE product_variants SET quantity = quantity + $3, updated_at = NOW()
	          WHERE product_id = $1 AND capacity_id = $2 AND quantity <= 2147483647 - $3`

	res, err := r.q.ExecContext(ctx, query, key.ProductID, key.CapacityID, qty)
	if err != nil {
		return fmt.Errorf("add stock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetVariant(ctx, key); err != nil {
			return err
		}
		return domain.StockOverflowError(key)
	}
	return nil
}

func (r *Repository) UpsertVariant(ctx context.Context, v *domain.ProductVariant) error {
	query := `INSERT INTO product_variants (` + variantColumns + `, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	          ON CONFLICT (product_id, capacity_id) DO UPDATE
	          SET name = EXCLUDED.name, price = EXCLUDED.price, sale_percent = EXCLUDED.sale_percent,
	              quantity = EXCLUDED.quantity, active = EXCLUDED.active, updated_at = NOW()`

	_, err := r.q.ExecContext(ctx, query, v.ProductID, v.CapacityID, v.Name, v.Price, v.SalePercent, v.Quantity, v.Active)
	if err != nil {
		return fmt.Errorf("upsert variant: %w", err)
	}
	return nil
}

func (r *Repository) ListLowStock(ctx context.Context, threshold int32) ([]domain.ProductVariant, error) {
	query := `SELECT ` + variantColumns + ` FROM product_variants
	          WHERE active AND quantity < $1 ORDER BY quantity, product_id, capacity_id`

	rows, err := r.q.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("query low stock: %w", err)
	}
	defer rows.Close()

	var variants []domain.ProductVariant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan variant row: %w", err)
		}
		variants = append(variants, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return variants, nil
}

// --- orders ---

const orderColumns = `id, order_code, account_id, delivery_name, delivery_phone, delivery_address, delivery_note,
	total_amount, order_type, status, COALESCE(idempotency_key, ''), created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID,
		&o.OrderCode,
		&o.AccountID,
		&o.Delivery.Name,
		&o.Delivery.Phone,
		&o.Delivery.Address,
		&o.Delivery.Note,
		&o.TotalAmount,
		&o.OrderType,
		&o.Status,
		&o.IdempotencyKey,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repository) OrderCodeExists(ctx context.Context, code int) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE order_code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check order code: %w", err)
	}
	return exists, nil
}

func (r *Repository) CreateOrder(ctx context.Context, order *domain.Order) error {
	query := `INSERT INTO orders (order_code, account_id, delivery_name, delivery_phone, delivery_address, delivery_note,
	                              total_amount, order_type, status, idempotency_key, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
	          RETURNING id, created_at, updated_at`

	idempotencyKey := sql.NullString{String: order.IdempotencyKey, Valid: order.IdempotencyKey != ""}
	err := r.q.QueryRowContext(ctx, query,
		order.OrderCode,
		order.AccountID,
		order.Delivery.Name,
		order.Delivery.Phone,
		order.Delivery.Address,
		order.Delivery.Note,
		order.TotalAmount,
		order.OrderType,
		order.Status,
		idempotencyKey,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			if pqErr.Constraint == "orders_idempotency_key_key" {
				return ErrDuplicateIdempotencyKey
			}
			return ErrDuplicateOrderCode
		}
		return fmt.Errorf("insert order: %w", err)
	}

	lineQuery := `INSERT INTO order_lines (order_code, product_id, capacity_id, quantity, unit_price, sale_percent)
	              VALUES ($1, $2, $3, $4, $5, $6)`
	for i := range order.Lines {
		l := &order.Lines[i]
		l.OrderCode = order.OrderCode
		if _, err := r.q.ExecContext(ctx, lineQuery, l.OrderCode, l.ProductID, l.CapacityID, l.Quantity, l.UnitPrice, l.SalePercent); err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}
	return nil
}

func (r *Repository) GetOrderByCode(ctx context.Context, code int) (*domain.Order, error) {
	return r.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_code = $1`, code)
}

func (r *Repository) LockOrder(ctx context.Context, code int) (*domain.Order, error) {
	return r.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_code = $1 FOR UPDATE`, code)
}

func (r *Repository) GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	return r.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE idempotency_key = $1`, key)
}

func (r *Repository) getOrder(ctx context.Context, query string, arg any) (*domain.Order, error) {
	order, err := scanOrder(r.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	lines, err := r.orderLines(ctx, order.OrderCode)
	if err != nil {
		return nil, err
	}
	order.Lines = lines
	return order, nil
}

func (r *Repository) orderLines(ctx context.Context, code int) ([]domain.OrderLine, error) {
	query := `SELECT order_code, product_id, capacity_id, quantity, unit_price, sale_percent
	          FROM order_lines WHERE order_code = $1 ORDER BY id`

	rows, err := r.q.QueryContext(ctx, query, code)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	var lines []domain.OrderLine
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.OrderCode, &l.ProductID, &l.CapacityID, &l.Quantity, &l.UnitPrice, &l.SalePercent); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return lines, nil
}

func (r *Repository) ListOrdersByAccount(ctx context.Context, accountID int64) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE account_id = $1 ORDER BY created_at DESC, id DESC`

	rows, err := r.q.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("query orders by account: %w", err)
	}

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	rows.Close()

	// lines are loaded after the cursor is closed; a transaction holds one connection
	for _, o := range orders {
		if o.Lines, err = r.orderLines(ctx, o.OrderCode); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *Repository) UpdateOrderStatus(ctx context.Context, code int, from, to domain.OrderStatus) error {
	query := `UPDATE orders SET status = $3, updated_at = NOW() WHERE order_code = $1 AND status = $2`

	res, err := r.q.ExecContext(ctx, query, code, from, to)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: order %d is no longer %s", domain.ErrIllegalTransition, code, from)
	}
	return nil
}

func (r *Repository) UpdateOrderType(ctx context.Context, code int, orderType domain.OrderType) error {
	res, err := r.q.ExecContext(ctx, `UPDATE orders SET order_type = $2, updated_at = NOW() WHERE order_code = $1`, code, orderType)
	if err != nil {
		return fmt.Errorf("update order type: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// --- payments ---

const paymentColumns = `id, transaction_id, order_code, provider, amount, status, provider_payload, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (*domain.PaymentTransaction, error) {
	var p domain.PaymentTransaction
	err := row.Scan(&p.ID, &p.TransactionID, &p.OrderCode, &p.Provider, &p.Amount, &p.Status, &p.ProviderPayload, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) CreatePaymentTransaction(ctx context.Context, txn *domain.PaymentTransaction) error {
	query := `INSERT INTO payment_transactions (transaction_id, order_code, provider, amount, status, provider_payload, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	          RETURNING id, created_at, updated_at`

	err := r.q.QueryRowContext(ctx, query, txn.TransactionID, txn.OrderCode, txn.Provider, txn.Amount, txn.Status, txn.ProviderPayload).
		Scan(&txn.ID, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateSuccessfulCharge
		}
		return fmt.Errorf("insert payment transaction: %w", err)
	}
	return nil
}

func (r *Repository) LatestPaymentTransaction(ctx context.Context, code int, provider string, status domain.PaymentStatus) (*domain.PaymentTransaction, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_transactions
	          WHERE order_code = $1 AND status = $2 AND ($3::text = '' OR provider = $3::text)
	          ORDER BY created_at DESC, id DESC LIMIT 1`

	p, err := scanPayment(r.q.QueryRowContext(ctx, query, code, status, provider))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query payment transaction: %w", err)
	}
	return p, nil
}

func (r *Repository) ListPaymentTransactions(ctx context.Context, code int) ([]*domain.PaymentTransaction, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_transactions WHERE order_code = $1 ORDER BY created_at, id`

	rows, err := r.q.QueryContext(ctx, query, code)
	if err != nil {
		return nil, fmt.Errorf("query payment transactions: %w", err)
	}
	defer rows.Close()

	var txns []*domain.PaymentTransaction
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		txns = append(txns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return txns, nil
}

func (r *Repository) UpdatePaymentTransaction(ctx context.Context, upd PaymentUpdate) error {
	query := `UPDATE payment_transactions
	          SET status = $3,
	              transaction_id = COALESCE(NULLIF($4::text, ''), transaction_id),
	              provider_payload = COALESCE(NULLIF($5::text, ''), provider_payload),
	              provider = COALESCE(NULLIF($6::text, ''), provider),
	              updated_at = NOW()
	          WHERE id = $1 AND status = $2`

	res, err := r.q.ExecContext(ctx, query, upd.ID, upd.From, upd.To, upd.TransactionID, upd.Payload, upd.Provider)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateSuccessfulCharge
		}
		return fmt.Errorf("update payment transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleStatus
	}
	return nil
}

// --- inventory receipts ---

func (r *Repository) CreateInventoryReceipt(ctx context.Context, receipt *domain.InventoryReceipt) error {
	query := `INSERT INTO inventory_receipts (code, account_id, supplier_name, supplier_phone, note, created_at)
	          VALUES ($1, $2, $3, $4, $5, NOW()) RETURNING created_at`

	err := r.q.QueryRowContext(ctx, query, receipt.Code, receipt.AccountID, receipt.SupplierName, receipt.SupplierPhone, receipt.Note).
		Scan(&receipt.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateReceipt
		}
		return fmt.Errorf("insert inventory receipt: %w", err)
	}

	lineQuery := `INSERT INTO inventory_receipt_lines (receipt_code, product_id, capacity_id, quantity) VALUES ($1, $2, $3, $4)`
	for _, l := range receipt.Lines {
		if _, err := r.q.ExecContext(ctx, lineQuery, receipt.Code, l.ProductID, l.CapacityID, l.Quantity); err != nil {
			return fmt.Errorf("insert inventory receipt line: %w", err)
		}
	}
	return nil
}

// --- outbox ---

func (r *Repository) InsertOutboxEvent(ctx context.Context, event *OutboxEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	query := `INSERT INTO outbox_events (id, aggregate_type, aggregate_id, event_type, payload, created_at)
	          VALUES ($1, $2, $3, $4, $5, NOW()) RETURNING created_at`

	err := r.q.QueryRowContext(ctx, query, event.ID, event.AggregateType, event.AggregateID, event.EventType, event.Payload).
		Scan(&event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (r *Repository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
	          FROM outbox_events WHERE processed_at IS NULL
	          ORDER BY created_at LIMIT $1`

	rows, err := r.q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *Repository) MarkEventAsProcessed(ctx context.Context, id uuid.UUID) error {
	_, err := r.q.ExecContext(ctx, `UPDATE outbox_events SET processed_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox event processed: %w", err)
	}
	return nil
}
