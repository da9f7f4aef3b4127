package repository

import (
	"context"
	"fmt"

	"github.com/mmeshcher/keyloyalty/internal/model"
)

// InsertAlert сохраняет уведомление пользователя.
func (r *PostgresRepository) InsertAlert(ctx context.Context, a model.Alert) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO loyalty_alerts (id, user_id, account_number, alert_type, message, points, created_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.UserID, a.AccountNumber, string(a.Type), a.Message, a.Points, a.CreatedDate,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// ListAlerts возвращает последние уведомления пользователя.
func (r *PostgresRepository) ListAlerts(ctx context.Context, userID string, limit int) ([]model.Alert, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, account_number, alert_type, message, points, created_date
		 FROM loyalty_alerts
		 WHERE user_id = $1
		 ORDER BY created_date DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		var (
			a         model.Alert
			alertType string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.AccountNumber, &alertType, &a.Message, &a.Points, &a.CreatedDate); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Type = model.AlertType(alertType)
		alerts = append(alerts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}

	return alerts, nil
}
