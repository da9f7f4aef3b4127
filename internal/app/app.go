// Package app собирает компоненты сервиса лояльности по конфигурации.
package app

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/keyloyalty/internal/accounting"
	"github.com/mmeshcher/keyloyalty/internal/alert"
	"github.com/mmeshcher/keyloyalty/internal/config"
	"github.com/mmeshcher/keyloyalty/internal/events"
	"github.com/mmeshcher/keyloyalty/internal/expiry"
	"github.com/mmeshcher/keyloyalty/internal/fraud"
	"github.com/mmeshcher/keyloyalty/internal/ingest"
	"github.com/mmeshcher/keyloyalty/internal/ledger"
	"github.com/mmeshcher/keyloyalty/internal/notify"
	"github.com/mmeshcher/keyloyalty/internal/redemption"
	"github.com/mmeshcher/keyloyalty/internal/repository"
	"github.com/mmeshcher/keyloyalty/internal/resolver"
	"github.com/mmeshcher/keyloyalty/internal/service"
	"github.com/mmeshcher/keyloyalty/internal/settlement"
	"github.com/mmeshcher/keyloyalty/internal/translog"
)

// App содержит собранные компоненты сервиса.
type App struct {
	Repo        *repository.PostgresRepository
	TxLog       *translog.Reader
	Queue       *events.Queue
	Pipeline    *ingest.Pipeline
	Consumer    *ingest.Consumer
	Coordinator *redemption.Coordinator
	Expiry      *expiry.Scheduler
	Service     *service.Service
	Notifier    *notify.Client

	publisher *alert.RabbitMQPublisher
	logger    *zap.Logger
}

// New подключается к хранилищам и собирает компоненты.
// RabbitMQ необязателен: при ошибке подключения уведомления только сохраняются.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		return nil, fmt.Errorf("database initialization: %w", err)
	}

	txLog, err := translog.Open(cfg.TransactionLogDriver, cfg.TransactionLogSource())
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("transaction log initialization: %w", err)
	}

	a := &App{Repo: repo, TxLog: txLog, logger: logger}

	var publisher alert.Publisher
	if cfg.RabbitMQURL != "" {
		p, err := alert.NewRabbitMQPublisher(cfg.RabbitMQURL, cfg.AlertExchange)
		if err != nil {
			logger.Warn("alert fan-out disabled", zap.Error(err))
		} else {
			a.publisher = p
			publisher = p
		}
	}

	catalog, err := service.LoadCatalog(cfg.RedemptionCatalog)
	if err != nil {
		a.Close()
		return nil, err
	}

	alerts := alert.NewService(repo, publisher, logger)
	accounts := resolver.New(repo)
	points := ledger.New(repo)
	scorer := fraud.NewScorer(repo, logger)

	a.Notifier = notify.NewClient(cfg.NotificationAddress, logger)
	if cfg.NotificationAddress == "" {
		logger.Warn("notification address not set, email and sms disabled")
	}
	if cfg.SettlementAddress == "" {
		logger.Warn("settlement address not set, transfer redemptions will be rolled back")
	}

	a.Coordinator = redemption.NewCoordinator(redemption.Deps{
		Ledger:   points,
		Tracker:  repo,
		Settler:  settlement.NewClient(cfg.SettlementAddress, cfg.SettlementSourceAccount, cfg.SettlementTimeout),
		Recorder: accounting.NewRecorder(repo, accounting.GL(cfg.GL), logger),
		Resolver: accounts,
		Alerts:   alerts,
		Notifier: a.Notifier,
		Scorer:   scorer,
		Logger:   logger,
	})

	a.Queue = events.NewQueue()
	a.Pipeline = ingest.NewPipeline(txLog, repo, a.Queue, cfg.PollInterval, cfg.PollWindow, logger)
	a.Consumer = ingest.NewConsumer(a.Queue, accounts, points, alerts, scorer, logger)
	a.Expiry = expiry.NewScheduler(repo, points, accounts, alerts, cfg.ExpiryInterval, cfg.ReminderDays, logger)

	a.Service = service.NewService(service.Deps{
		Repo:       repo,
		Ledger:     points,
		Resolver:   accounts,
		Redeemer:   a.Coordinator,
		Log:        txLog,
		Alerts:     alerts,
		Catalog:    catalog,
		PollWindow: cfg.PollWindow,
		Logger:     logger,
	})

	return a, nil
}

// Close дожидается фоновых уведомлений и закрывает соединения.
func (a *App) Close() error {
	a.Notifier.Wait()
	if a.Queue != nil {
		a.Queue.Close()
	}

	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.TxLog != nil {
		errs = append(errs, a.TxLog.Close())
	}
	if a.Repo != nil {
		errs = append(errs, a.Repo.Close())
	}
	return errors.Join(errs...)
}
