// Package resolver сопоставляет внешние номера счетов и имена пользователей с идентификатором участника.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmeshcher/keyloyalty/internal/repository"
	"github.com/mmeshcher/keyloyalty/internal/validation"
)

// ErrAccountNotFound возвращается, если идентификатор не удаётся сопоставить пользователю.
var ErrAccountNotFound = errors.New("account not found")

// Store описывает хранилище привязок счетов к пользователям.
type Store interface {
	UserIDByAccount(ctx context.Context, accountNumber string) (string, error)
	UserIDByUsername(ctx context.Context, username string) (string, error)
	AccountsByUser(ctx context.Context, userID string) ([]string, error)
}

// Resolver реализует двустороннее сопоставление счетов и пользователей.
type Resolver struct {
	store Store
}

// New создаёт Resolver поверх хранилища привязок.
func New(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve возвращает идентификатор пользователя по номеру счёта или имени пользователя.
// Непривязанный, но корректный номер счёта сам служит идентификатором пользователя.
func (r *Resolver) Resolve(ctx context.Context, accountOrUsername string) (string, error) {
	id := validation.NormalizeIdentifier(accountOrUsername)
	if id == "" {
		return "", ErrAccountNotFound
	}

	if validation.IsValidAccountNumber(id) {
		userID, err := r.store.UserIDByAccount(ctx, id)
		switch {
		case err == nil:
			return userID, nil
		case errors.Is(err, repository.ErrAccountNotLinked):
			return id, nil
		default:
			return "", fmt.Errorf("resolve account: %w", err)
		}
	}

	userID, err := r.store.UserIDByUsername(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotLinked) {
			return "", fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
		return "", fmt.Errorf("resolve username: %w", err)
	}
	return userID, nil
}

// AccountsFor возвращает счета пользователя.
func (r *Resolver) AccountsFor(ctx context.Context, userID string) ([]string, error) {
	accounts, err := r.store.AccountsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("accounts for user: %w", err)
	}
	if len(accounts) == 0 && validation.IsValidAccountNumber(userID) {
		return []string{userID}, nil
	}
	return accounts, nil
}
