package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// UserIDByAccount возвращает пользователя, к которому привязан счёт.
func (r *PostgresRepository) UserIDByAccount(ctx context.Context, accountNumber string) (string, error) {
	var userID string
	err := r.pool.QueryRow(ctx,
		`SELECT user_id FROM account_links WHERE account_number = $1`,
		accountNumber,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrAccountNotLinked
		}
		return "", fmt.Errorf("select account link: %w", err)
	}
	return userID, nil
}

// UserIDByUsername возвращает пользователя по имени без учёта регистра.
func (r *PostgresRepository) UserIDByUsername(ctx context.Context, username string) (string, error) {
	var userID string
	err := r.pool.QueryRow(ctx,
		`SELECT user_id FROM account_links WHERE lower(username) = lower($1) LIMIT 1`,
		username,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrAccountNotLinked
		}
		return "", fmt.Errorf("select username link: %w", err)
	}
	return userID, nil
}

// AccountsByUser возвращает все счета пользователя.
func (r *PostgresRepository) AccountsByUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT account_number FROM account_links WHERE user_id = $1 ORDER BY account_number`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select accounts: %w", err)
	}
	defer rows.Close()

	accounts, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect accounts: %w", err)
	}
	return accounts, nil
}

// LinkAccount привязывает счёт к пользователю.
func (r *PostgresRepository) LinkAccount(ctx context.Context, accountNumber, userID, username string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO account_links (account_number, user_id, username)
		 VALUES ($1, $2, NULLIF($3, ''))
		 ON CONFLICT (account_number) DO UPDATE SET user_id = EXCLUDED.user_id, username = EXCLUDED.username`,
		accountNumber, userID, username,
	)
	if err != nil {
		return fmt.Errorf("link account: %w", err)
	}
	return nil
}
