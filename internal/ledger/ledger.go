// Package ledger сериализует изменения баланса баллов по каждому пользователю.
//
// Любое изменение CustomerLoyalty выполняется как чтение-изменение-запись под
// блокировкой пользователя, поэтому параллельные начисления и погашения одного
// пользователя не теряют обновлений. Уровень всегда пересчитывается из баланса.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmeshcher/keyloyalty/internal/model"
	"github.com/mmeshcher/keyloyalty/internal/points"
	"github.com/mmeshcher/keyloyalty/internal/repository"
)

// ErrInsufficientPoints возвращается, если баланса не хватает для списания.
var ErrInsufficientPoints = errors.New("insufficient points")

// ExpiryExtension задаёт срок действия баллов после начисления.
const ExpiryExtension = 365 * 24 * time.Hour

// Store описывает хранилище записей лояльности.
type Store interface {
	GetCustomer(ctx context.Context, userID string) (*model.CustomerLoyalty, error)
	UpsertCustomer(ctx context.Context, c model.CustomerLoyalty) error
}

// Change описывает результат одного изменения записи.
type Change struct {
	Before  model.CustomerLoyalty
	After   model.CustomerLoyalty
	Created bool
}

// Delta возвращает изменение баланса.
func (c Change) Delta() int64 {
	return c.After.TotalPoints - c.Before.TotalPoints
}

// TierUpgraded сообщает, что уровень вырос.
func (c Change) TierUpgraded() bool {
	return c.After.Tier > c.Before.Tier
}

// Service выполняет сериализованные по пользователю изменения баланса.
type Service struct {
	store Store
	locks *keyedMutex
	now   func() time.Time
}

// New создаёт Service поверх хранилища.
func New(store Store) *Service {
	return &Service{
		store: store,
		locks: newKeyedMutex(),
		now:   time.Now,
	}
}

// Get возвращает запись пользователя. Для нового пользователя возвращается
// незаписанная запись с нулевым балансом.
func (s *Service) Get(ctx context.Context, userID string) (model.CustomerLoyalty, error) {
	c, err := s.store.GetCustomer(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrCustomerNotFound) {
			return s.blank(userID), nil
		}
		return model.CustomerLoyalty{}, err
	}
	return *c, nil
}

// Update загружает или создаёт запись, применяет fn и сохраняет результат.
// Если fn возвращает ошибку, запись не сохраняется.
func (s *Service) Update(ctx context.Context, userID string, fn func(c *model.CustomerLoyalty) error) (Change, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	var change Change

	current, err := s.store.GetCustomer(ctx, userID)
	switch {
	case err == nil:
		change.Before = *current
	case errors.Is(err, repository.ErrCustomerNotFound):
		change.Before = s.blank(userID)
		change.Created = true
	default:
		return change, fmt.Errorf("load customer: %w", err)
	}

	next := change.Before
	if err := fn(&next); err != nil {
		return change, err
	}

	next.UserID = userID
	next.TotalPoints, next.Tier = points.Apply(next.TotalPoints, 0)
	next.LastUpdated = s.now().UTC()

	if err := s.store.UpsertCustomer(ctx, next); err != nil {
		return change, fmt.Errorf("save customer: %w", err)
	}

	change.After = next
	return change, nil
}

// Earn начисляет баллы и продлевает срок их действия при положительном изменении.
func (s *Service) Earn(ctx context.Context, userID string, delta int64) (Change, error) {
	return s.Update(ctx, userID, func(c *model.CustomerLoyalty) error {
		c.TotalPoints += delta
		if delta > 0 {
			c.PointsExpiryDate = s.now().UTC().Add(ExpiryExtension)
		}
		return nil
	})
}

// Debit списывает баллы. При недостатке баланса запись не изменяется.
func (s *Service) Debit(ctx context.Context, userID string, amount int64) (Change, error) {
	if amount <= 0 {
		return Change{}, fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	return s.Update(ctx, userID, func(c *model.CustomerLoyalty) error {
		if c.TotalPoints < amount {
			return fmt.Errorf("%w: have %d, need %d", ErrInsufficientPoints, c.TotalPoints, amount)
		}
		c.TotalPoints -= amount
		return nil
	})
}

// Credit возвращает ранее списанные баллы без продления срока действия.
func (s *Service) Credit(ctx context.Context, userID string, amount int64) (Change, error) {
	return s.Update(ctx, userID, func(c *model.CustomerLoyalty) error {
		c.TotalPoints += amount
		return nil
	})
}

// Set устанавливает баланс в абсолютное значение.
func (s *Service) Set(ctx context.Context, userID string, total int64) (Change, error) {
	return s.Update(ctx, userID, func(c *model.CustomerLoyalty) error {
		if total > c.TotalPoints {
			c.PointsExpiryDate = s.now().UTC().Add(ExpiryExtension)
		}
		c.TotalPoints = total
		return nil
	})
}

// Expire обнуляет баланс с истёкшим сроком и переносит срок на год вперёд.
// Возвращает число сгоревших баллов; 0, если срок уже продлён другим изменением.
func (s *Service) Expire(ctx context.Context, userID string) (int64, Change, error) {
	var expired int64
	change, err := s.Update(ctx, userID, func(c *model.CustomerLoyalty) error {
		now := s.now().UTC()
		if c.TotalPoints <= 0 || c.PointsExpiryDate.After(now) {
			return errNothingToExpire
		}
		expired = c.TotalPoints
		c.TotalPoints = 0
		c.PointsExpiryDate = now.Add(ExpiryExtension)
		return nil
	})
	if errors.Is(err, errNothingToExpire) {
		return 0, change, nil
	}
	return expired, change, err
}

var errNothingToExpire = errors.New("nothing to expire")

func (s *Service) blank(userID string) model.CustomerLoyalty {
	now := s.now().UTC()
	return model.CustomerLoyalty{
		UserID:           userID,
		Tier:             model.TierBronze,
		LastUpdated:      now,
		PointsExpiryDate: now.Add(ExpiryExtension),
	}
}
