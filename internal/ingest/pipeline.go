// Package ingest опрашивает внешний журнал операций и превращает новые операции в начисления баллов.
package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/keyloyalty/internal/model"
	"github.com/mmeshcher/keyloyalty/internal/translog"
)

// Source читает внешний журнал операций.
type Source interface {
	FetchSince(ctx context.Context, g translog.Group, since time.Time) ([]model.TransactionRecord, error)
}

// Dedup хранит долговременное множество уже обработанных внешних операций.
type Dedup interface {
	IsProcessed(ctx context.Context, transactionID string) (bool, error)
	MarkProcessed(ctx context.Context, transactionID string) (bool, error)
}

// Publisher принимает события лояльности.
type Publisher interface {
	Publish(ev model.LoyaltyEvent) bool
}

// TickStats содержит итоги одного опроса журнала.
type TickStats struct {
	Fetched      int
	Published    int
	Skipped      int
	FailedGroups int
}

// Pipeline периодически опрашивает журнал и публикует события о новых операциях.
type Pipeline struct {
	source   Source
	dedup    Dedup
	queue    Publisher
	groups   []translog.Group
	interval time.Duration
	window   time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewPipeline создаёт Pipeline, опрашивающий все группы операций.
func NewPipeline(source Source, dedup Dedup, queue Publisher, interval, window time.Duration, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		source:   source,
		dedup:    dedup,
		queue:    queue,
		groups:   translog.Groups,
		interval: interval,
		window:   window,
		logger:   logger,
		now:      time.Now,
	}
}

// Run выполняет опрос сразу и затем с фиксированным интервалом до отмены ctx.
// Начатый опрос доводится до конца.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("transaction ingestion started",
		zap.Duration("interval", p.interval),
		zap.Duration("window", p.window),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.Tick(context.WithoutCancel(ctx))

		select {
		case <-ctx.Done():
			p.logger.Info("transaction ingestion stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick опрашивает каждую группу операций независимо.
// Ошибка одной группы не прерывает обработку остальных.
func (p *Pipeline) Tick(ctx context.Context) TickStats {
	var stats TickStats
	since := p.now().Add(-p.window)

	for _, g := range p.groups {
		records, err := p.source.FetchSince(ctx, g, since)
		if err != nil {
			stats.FailedGroups++
			p.logger.Error("transaction log query failed",
				zap.String("group", string(g.Kind)),
				zap.Error(err),
			)
			continue
		}

		stats.Fetched += len(records)
		for _, rec := range records {
			if p.process(ctx, g.Kind, rec) {
				stats.Published++
			} else {
				stats.Skipped++
			}
		}
	}

	if stats.Published > 0 || stats.FailedGroups > 0 {
		p.logger.Info("ingestion tick finished",
			zap.Int("fetched", stats.Fetched),
			zap.Int("published", stats.Published),
			zap.Int("skipped", stats.Skipped),
			zap.Int("failed_groups", stats.FailedGroups),
		)
	}

	return stats
}

func (p *Pipeline) process(ctx context.Context, kind model.TransactionType, rec model.TransactionRecord) bool {
	id := rec.RequestID

	processed, err := p.dedup.IsProcessed(ctx, id)
	if err != nil {
		// Без ответа хранилища операцию считаем обработанной: недоначисление лучше двойного.
		p.logger.Warn("dedup check failed, skipping transaction",
			zap.String("transaction_id", id),
			zap.Error(err),
		)
		return false
	}
	if processed {
		p.logger.Debug("transaction already processed", zap.String("transaction_id", id))
		return false
	}

	inserted, err := p.dedup.MarkProcessed(ctx, id)
	if err != nil {
		p.logger.Warn("mark processed failed, will retry next tick",
			zap.String("transaction_id", id),
			zap.Error(err),
		)
		return false
	}
	if !inserted {
		return false
	}

	ev := ToEvent(kind, rec)
	if !p.queue.Publish(ev) {
		p.logger.Error("loyalty event dropped, queue closed", zap.String("transaction_id", id))
		return false
	}

	p.logger.Debug("loyalty event published",
		zap.String("transaction_id", id),
		zap.String("type", string(kind)),
		zap.String("account", rec.DebitAccount),
	)
	return true
}

// ToEvent строит типизированное событие по строке журнала.
func ToEvent(kind model.TransactionType, rec model.TransactionRecord) model.LoyaltyEvent {
	base := model.EventBase{
		TransactionID: rec.RequestID,
		AccountNumber: rec.DebitAccount,
		Amount:        rec.Amount,
		Timestamp:     rec.CreatedAt,
	}

	switch kind {
	case model.TransactionAirtime:
		return model.AirtimeEvent{EventBase: base, Network: rec.Network, PhoneNumber: rec.CreditAccount}
	case model.TransactionBillPayment:
		return model.BillPaymentEvent{EventBase: base, Biller: rec.Biller, CustomerRef: rec.CreditAccount}
	default:
		return model.TransferEvent{
			EventBase:     base,
			DebitAccount:  rec.DebitAccount,
			CreditAccount: rec.CreditAccount,
			Channel:       rec.TransactionType,
		}
	}
}
