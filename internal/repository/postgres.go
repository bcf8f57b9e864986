// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/vinreport-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrOrderNotFound возвращается, если заказ не найден.
var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrReportNotFound возвращается, если отчёт для заказа отсутствует.
	ErrReportNotFound = errors.New("report not found")
	// ErrDuplicateTransactionCode возвращается при коллизии кода транзакции.
	ErrDuplicateTransactionCode = errors.New("transaction code already exists")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			// Ретраи полезны для Serialization Failure и Deadlocks.
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Ping проверяет соединение с базой данных.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateOrder сохраняет новый заказ в статусе pending и возвращает его идентификатор.
func (r *PostgresRepository) CreateOrder(ctx context.Context, order *model.Order) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO orders
		 (transaction_code, tier, vin, amount, currency,
		  customer_name, customer_email, customer_phone,
		  provider, provider_session_id, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		order.TransactionCode, string(order.Tier), order.VIN, order.AmountCents, order.Currency,
		order.Customer.Name, order.Customer.Email, order.Customer.Phone,
		order.Provider, order.ProviderSessionID, string(model.OrderStatusPending),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateTransactionCode, order.TransactionCode)
		}
		return 0, fmt.Errorf("create order: %w", err)
	}
	return id, nil
}

const orderColumns = `id, transaction_code, tier, vin, amount, currency,
	customer_name, customer_email, customer_phone,
	provider, provider_session_id, provider_payment_id,
	status, report_url, report_expires_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var tier, status string
	err := row.Scan(
		&o.ID, &o.TransactionCode, &tier, &o.VIN, &o.AmountCents, &o.Currency,
		&o.Customer.Name, &o.Customer.Email, &o.Customer.Phone,
		&o.Provider, &o.ProviderSessionID, &o.ProviderPaymentID,
		&status, &o.ReportURL, &o.ReportExpiresAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.Tier = model.Tier(tier)
	o.Status = model.OrderStatus(status)
	return &o, nil
}

// GetOrderByID возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, id int64) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

// GetOrderBySessionID возвращает заказ по идентификатору платёжной сессии провайдера.
func (r *PostgresRepository) GetOrderBySessionID(ctx context.Context, sessionID string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE provider_session_id = $1`, sessionID)
	return scanOrder(row)
}

// UpdateOrderStatus переводит заказ из ожидаемого статуса в новый.
// Возвращает true только для вызова, который реально выполнил переход:
// условное обновление сериализует конкурентные наблюдения одного подтверждения.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, id int64, from, to model.OrderStatus) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// MarkOrderPaid переводит заказ pending → success и фиксирует платёжный идентификатор провайдера.
func (r *PostgresRepository) MarkOrderPaid(ctx context.Context, id int64, paymentID string) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders
		 SET status = $2, provider_payment_id = $3, updated_at = now()
		 WHERE id = $1 AND status = $4`,
		id, string(model.OrderStatusSuccess), paymentID, string(model.OrderStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("mark order paid: %w", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// AttachReport сохраняет отчёт для заказа ровно один раз.
// При конкурентной вставке побеждает одна строка; проигравший вызов получает
// уже существующий отчёт и inserted=false. Заказ переводится в completed
// в той же транзакции.
func (r *PostgresRepository) AttachReport(ctx context.Context, report *model.Report) (*model.Report, bool, error) {
	payload, err := json.Marshal(report.Payload)
	if err != nil {
		return nil, false, fmt.Errorf("marshal report payload: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cmdTag, err := tx.Exec(ctx,
		`INSERT INTO reports (id, order_id, vin, tier, payload, document_path, url, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (order_id) DO NOTHING`,
		report.ID, report.OrderID, report.VIN, string(report.Tier), payload,
		report.DocumentPath, report.URL, report.ExpiresAt, report.CreatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert report: %w", err)
	}

	inserted := cmdTag.RowsAffected() == 1

	winner, err := scanReport(tx.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE order_id = $1`, report.OrderID))
	if err != nil {
		return nil, false, fmt.Errorf("select existing report: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE orders
		 SET status = $2, report_url = $3, report_expires_at = $4, updated_at = now()
		 WHERE id = $1 AND status IN ($5, $6)`,
		report.OrderID, string(model.OrderStatusCompleted), winner.URL, winner.ExpiresAt,
		string(model.OrderStatusSuccess), string(model.OrderStatusCompleted),
	)
	if err != nil {
		return nil, false, fmt.Errorf("complete order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit tx: %w", err)
	}

	return winner, inserted, nil
}

const reportColumns = `id, order_id, vin, tier, payload, document_path, url,
	downloads, last_accessed_at, expires_at, created_at`

func scanReport(row pgx.Row) (*model.Report, error) {
	var rep model.Report
	var tier string
	var payload []byte
	err := row.Scan(
		&rep.ID, &rep.OrderID, &rep.VIN, &tier, &payload, &rep.DocumentPath, &rep.URL,
		&rep.Downloads, &rep.LastAccessedAt, &rep.ExpiresAt, &rep.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReportNotFound
		}
		return nil, fmt.Errorf("scan report: %w", err)
	}
	rep.Tier = model.Tier(tier)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &rep.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal report payload: %w", err)
		}
	}
	return &rep, nil
}

// GetReportByOrderID возвращает отчёт, принадлежащий заказу.
func (r *PostgresRepository) GetReportByOrderID(ctx context.Context, orderID int64) (*model.Report, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE order_id = $1`, orderID)
	return scanReport(row)
}

// RegisterReportAccess инкрементирует счётчик скачиваний и время последнего доступа.
// Счётчик только растёт; строгая сериализация инкремента не требуется.
func (r *PostgresRepository) RegisterReportAccess(ctx context.Context, orderID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE reports
		 SET downloads = downloads + 1, last_accessed_at = now()
		 WHERE order_id = $1`,
		orderID,
	)
	if err != nil {
		return fmt.Errorf("register report access: %w", err)
	}
	return nil
}

// AppendTransactionLog дописывает запись в журнал операций. Журнал никогда не изменяется.
func (r *PostgresRepository) AppendTransactionLog(ctx context.Context, orderID int64, status model.OrderStatus, action string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal log payload: %w", err)
	}

	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO transaction_log (order_id, status, action, payload) VALUES ($1, $2, $3, $4)`,
			orderID, string(status), action, raw,
		)
		if err != nil {
			return fmt.Errorf("append transaction log: %w", err)
		}
		return nil
	})
}

// GetStalePendingOrders возвращает заказы в статусе pending старше указанного
// возраста: кандидаты фоновой сверки статуса с провайдером.
func (r *PostgresRepository) GetStalePendingOrders(ctx context.Context, olderThan time.Duration, limit int) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE status = $1 AND created_at < now() - $2::interval
		 ORDER BY created_at
		 LIMIT $3`,
		string(model.OrderStatusPending),
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select stale pending orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

// ListOrders возвращает последние заказы для административного просмотра.
func (r *PostgresRepository) ListOrders(ctx context.Context, limit int) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]model.Order, error) {
	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}
