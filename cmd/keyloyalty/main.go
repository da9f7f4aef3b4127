// Package main запускает сервис лояльности: опрос журнала операций, начисления,
// сгорание баллов и HTTP API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/keyloyalty/internal/app"
	"github.com/mmeshcher/keyloyalty/internal/config"
	"github.com/mmeshcher/keyloyalty/internal/handler"
	"github.com/mmeshcher/keyloyalty/internal/logbuf"
	"github.com/mmeshcher/keyloyalty/internal/middleware"
)

func main() {
	base, _ := zap.NewProduction()
	defer base.Sync()

	cfg, err := config.Parse()
	if err != nil {
		base.Sugar().Fatalw("configuration error", "error", err.Error())
	}

	logs := logbuf.New(cfg.LogBufferSize)
	logger := base.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, logs.Core(zapcore.InfoLevel))
	}))
	sugar := logger.Sugar()

	a, err := app.New(cfg, logger)
	if err != nil {
		sugar.Fatalw("initialization error", "error", err.Error())
	}
	defer a.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.APIKey)
	if !authMiddleware.Enabled() {
		sugar.Warn("API_KEY not set, HTTP API is unauthenticated")
	}

	h := handler.NewHandler(a.Service, logs, logger, authMiddleware, nil)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Опрос журнала операций
	g.Go(func() error {
		return a.Pipeline.Run(ctx)
	})

	// Начисление баллов по событиям
	g.Go(func() error {
		return a.Consumer.Run(ctx)
	})

	// Сгорание баллов и напоминания
	g.Go(func() error {
		return a.Expiry.Run(ctx)
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting loyalty server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
