package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/keyloyalty/internal/model"
)

const trackerColumns = `transaction_id, account_number, user_id, points_used, amount_used::text,
	transaction_type, original_points, status, rollback_reason, created_date, updated_date`

// CreateRedemption сохраняет запись саги погашения в статусе PENDING.
func (r *PostgresRepository) CreateRedemption(ctx context.Context, p model.PendingRedemption) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO loyalty_transaction_tracker
		     (transaction_id, account_number, user_id, points_used, amount_used,
		      transaction_type, original_points, status, created_date, updated_date)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $9)`,
		p.TransactionID, p.AccountNumber, p.UserID, p.PointsUsed, p.AmountUsed.String(),
		string(p.TransactionType), p.OriginalPoints, string(model.RedemptionPending), p.CreatedDate,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrRedemptionExists, p.TransactionID)
		}
		return fmt.Errorf("create redemption: %w", err)
	}
	return nil
}

// GetRedemption возвращает запись саги погашения.
func (r *PostgresRepository) GetRedemption(ctx context.Context, transactionID string) (*model.PendingRedemption, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+trackerColumns+` FROM loyalty_transaction_tracker WHERE transaction_id = $1`,
		transactionID,
	)

	p, err := scanRedemption(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRedemptionNotFound
		}
		return nil, fmt.Errorf("get redemption: %w", err)
	}
	return p, nil
}

// FinalizeRedemption переводит запись саги из PENDING в итоговый статус.
// Запись, уже находящаяся в итоговом статусе, не изменяется.
func (r *PostgresRepository) FinalizeRedemption(ctx context.Context, transactionID string, status model.RedemptionStatus, reason string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx,
		`SELECT status FROM loyalty_transaction_tracker WHERE transaction_id = $1 FOR UPDATE`,
		transactionID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRedemptionNotFound
		}
		return fmt.Errorf("select redemption: %w", err)
	}

	if model.RedemptionStatus(current) != model.RedemptionPending {
		return fmt.Errorf("%w: %s is %s", ErrRedemptionFinalized, transactionID, current)
	}

	_, err = tx.Exec(ctx,
		`UPDATE loyalty_transaction_tracker
		 SET status = $2, rollback_reason = $3, updated_date = now()
		 WHERE transaction_id = $1`,
		transactionID, string(status), reason,
	)
	if err != nil {
		return fmt.Errorf("update redemption: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// ReopenRedemption возвращает отменённую запись в статус PENDING.
// Применяется, когда баллы по отменённой саге вернуть не удалось.
func (r *PostgresRepository) ReopenRedemption(ctx context.Context, transactionID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE loyalty_transaction_tracker
		 SET status = $2, rollback_reason = '', updated_date = now()
		 WHERE transaction_id = $1 AND status = $3`,
		transactionID, string(model.RedemptionPending), string(model.RedemptionRolledBack),
	)
	if err != nil {
		return fmt.Errorf("reopen redemption: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s is not rolled back", ErrRedemptionNotFound, transactionID)
	}
	return nil
}

// ListPendingRedemptions возвращает незавершённые саги, созданные раньше указанного момента.
func (r *PostgresRepository) ListPendingRedemptions(ctx context.Context, createdBefore time.Time) ([]model.PendingRedemption, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+trackerColumns+`
		 FROM loyalty_transaction_tracker
		 WHERE status = $1 AND created_date < $2
		 ORDER BY created_date`,
		string(model.RedemptionPending), createdBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending redemptions: %w", err)
	}
	defer rows.Close()

	var out []model.PendingRedemption
	for rows.Next() {
		p, err := scanRedemption(rows)
		if err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		out = append(out, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate redemptions: %w", err)
	}

	return out, nil
}

// CountRedemptionsSince возвращает число погашений пользователя начиная с указанного момента.
func (r *PostgresRepository) CountRedemptionsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM loyalty_transaction_tracker WHERE user_id = $1 AND created_date >= $2`,
		userID, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count redemptions: %w", err)
	}
	return n, nil
}

func scanRedemption(row pgx.Row) (*model.PendingRedemption, error) {
	var (
		p      model.PendingRedemption
		amount string
		txType string
		status string
	)
	err := row.Scan(&p.TransactionID, &p.AccountNumber, &p.UserID, &p.PointsUsed, &amount,
		&txType, &p.OriginalPoints, &status, &p.RollbackReason, &p.CreatedDate, &p.UpdatedDate)
	if err != nil {
		return nil, err
	}

	p.AmountUsed, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount used: %w", err)
	}
	p.TransactionType = model.TransactionType(txType)
	p.Status = model.RedemptionStatus(status)

	return &p, nil
}
