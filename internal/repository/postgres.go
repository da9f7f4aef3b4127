// Package repository содержит реализацию доступа к данным лояльности в PostgreSQL.
package repository

import (
	"context"
	"embed"
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
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/keyloyalty/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrCustomerNotFound возвращается, если запись лояльности пользователя отсутствует.
var (
	ErrCustomerNotFound = errors.New("customer loyalty not found")
	// ErrRedemptionNotFound возвращается, если запись саги погашения не найдена.
	ErrRedemptionNotFound = errors.New("redemption not found")
	// ErrRedemptionExists возвращается при повторном создании записи саги с тем же идентификатором.
	ErrRedemptionExists = errors.New("redemption already exists")
	// ErrRedemptionFinalized возвращается при попытке изменить уже завершённую сагу.
	ErrRedemptionFinalized = errors.New("redemption already finalized")
	// ErrAccountNotLinked возвращается, если счёт или имя пользователя не привязаны к пользователю.
	ErrAccountNotLinked = errors.New("account not linked")
	// ErrEmptyEntries возвращается при попытке записать пустой набор проводок.
	ErrEmptyEntries = errors.New("no accounting entries")
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

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// IsTransient сообщает, что ошибка хранилища временная и операцию можно повторить.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable,
			pgerrcode.QueryCanceled, pgerrcode.AdminShutdown, pgerrcode.CannotConnectNow:
			return true
		}
		return pgerrcode.IsConnectionException(pgErr.Code)
	}

	if pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "i/o timeout")
}

// GetCustomer возвращает запись лояльности пользователя.
func (r *PostgresRepository) GetCustomer(ctx context.Context, userID string) (*model.CustomerLoyalty, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT user_id, total_points, tier, last_updated, points_expiry_date
		 FROM customer_loyalty
		 WHERE user_id = $1`,
		userID,
	)

	c, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}

	return c, nil
}

// UpsertCustomer вставляет запись лояльности или обновляет существующую одним запросом.
func (r *PostgresRepository) UpsertCustomer(ctx context.Context, c model.CustomerLoyalty) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO customer_loyalty (user_id, total_points, tier, last_updated, points_expiry_date)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE SET
		     total_points = EXCLUDED.total_points,
		     tier = EXCLUDED.tier,
		     last_updated = EXCLUDED.last_updated,
		     points_expiry_date = EXCLUDED.points_expiry_date`,
		c.UserID, c.TotalPoints, int16(c.Tier), c.LastUpdated, c.PointsExpiryDate,
	)
	if err != nil {
		return fmt.Errorf("upsert customer: %w", err)
	}
	return nil
}

// ListExpiredCustomers возвращает пользователей с ненулевым балансом и истёкшим сроком баллов.
func (r *PostgresRepository) ListExpiredCustomers(ctx context.Context, now time.Time) ([]model.CustomerLoyalty, error) {
	return r.listCustomers(ctx,
		`SELECT user_id, total_points, tier, last_updated, points_expiry_date
		 FROM customer_loyalty
		 WHERE points_expiry_date <= $1 AND total_points > 0
		 ORDER BY user_id`,
		now,
	)
}

// ListCustomersExpiringBetween возвращает пользователей с ненулевым балансом, у которых срок баллов
// истекает в полуинтервале [from, to).
func (r *PostgresRepository) ListCustomersExpiringBetween(ctx context.Context, from, to time.Time) ([]model.CustomerLoyalty, error) {
	return r.listCustomers(ctx,
		`SELECT user_id, total_points, tier, last_updated, points_expiry_date
		 FROM customer_loyalty
		 WHERE points_expiry_date >= $1 AND points_expiry_date < $2 AND total_points > 0
		 ORDER BY user_id`,
		from, to,
	)
}

func (r *PostgresRepository) listCustomers(ctx context.Context, query string, args ...any) ([]model.CustomerLoyalty, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select customers: %w", err)
	}
	defer rows.Close()

	var customers []model.CustomerLoyalty
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		customers = append(customers, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customers: %w", err)
	}

	return customers, nil
}

func scanCustomer(row pgx.Row) (*model.CustomerLoyalty, error) {
	var (
		c    model.CustomerLoyalty
		tier int16
	)
	if err := row.Scan(&c.UserID, &c.TotalPoints, &tier, &c.LastUpdated, &c.PointsExpiryDate); err != nil {
		return nil, err
	}
	c.Tier = model.Tier(tier)
	return &c, nil
}

// IsProcessed проверяет, начислялись ли уже баллы за внешнюю операцию.
func (r *PostgresRepository) IsProcessed(ctx context.Context, transactionID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_transactions WHERE transaction_id = $1)`,
		transactionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check processed: %w", err)
	}
	return exists, nil
}

// MarkProcessed помечает внешнюю операцию обработанной и возвращает признак новой записи.
func (r *PostgresRepository) MarkProcessed(ctx context.Context, transactionID string) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`INSERT INTO processed_transactions (transaction_id) VALUES ($1) ON CONFLICT (transaction_id) DO NOTHING`,
		transactionID,
	)
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// PruneProcessed удаляет отметки об обработке старше указанного момента.
func (r *PostgresRepository) PruneProcessed(ctx context.Context, olderThan time.Time) (int64, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`DELETE FROM processed_transactions WHERE processed_date < $1`,
		olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("prune processed: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

// InsertAccountingEntries записывает набор проводок одной транзакцией: все или ни одной.
func (r *PostgresRepository) InsertAccountingEntries(ctx context.Context, entries []model.AccountingEntry) error {
	if len(entries) == 0 {
		return ErrEmptyEntries
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO accounting_entries
			     (transaction_id, gl_account, debit_amount, credit_amount, description, account_number, created_date)
			 VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6, $7)`,
			e.TransactionID, e.GLAccount, e.DebitAmount.String(), e.CreditAmount.String(),
			e.Description, e.AccountNumber, e.CreatedDate,
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert accounting entries: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// ListAccountingEntries возвращает проводки по идентификатору погашения.
func (r *PostgresRepository) ListAccountingEntries(ctx context.Context, transactionID string) ([]model.AccountingEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT transaction_id, gl_account, debit_amount::text, credit_amount::text, description, account_number, created_date
		 FROM accounting_entries
		 WHERE transaction_id = $1
		 ORDER BY id`,
		transactionID,
	)
	if err != nil {
		return nil, fmt.Errorf("select accounting entries: %w", err)
	}
	defer rows.Close()

	var entries []model.AccountingEntry
	for rows.Next() {
		var (
			e             model.AccountingEntry
			debit, credit string
		)
		if err := rows.Scan(&e.TransactionID, &e.GLAccount, &debit, &credit, &e.Description, &e.AccountNumber, &e.CreatedDate); err != nil {
			return nil, fmt.Errorf("scan accounting entry: %w", err)
		}
		if e.DebitAmount, err = decimal.NewFromString(debit); err != nil {
			return nil, fmt.Errorf("parse debit amount: %w", err)
		}
		if e.CreditAmount, err = decimal.NewFromString(credit); err != nil {
			return nil, fmt.Errorf("parse credit amount: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounting entries: %w", err)
	}

	return entries, nil
}
