// Package notify отправляет email и SMS уведомления о погашении баллов.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	emailPath = "/api/notifications/loyalty-transaction-email"
	smsPath   = "/api/notifications/loyalty-transaction-sms"
)

// Request описывает уведомление о результате операции с баллами.
type Request struct {
	AccountNumber   string          `json:"accountNumber"`
	TransactionType string          `json:"transactionType"`
	Amount          decimal.Decimal `json:"amount"`
	PointsUsed      int64           `json:"pointsUsed"`
	IsSuccess       bool            `json:"isSuccess"`
	Subject         string          `json:"subject"`
	Message         string          `json:"message"`
}

// Client отправляет уведомления в сервис рассылки с повторами.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// NewClient создаёт клиента сервиса уведомлений.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Logger = leveledLogger{logger.Sugar()}

	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &Client{
		baseURL:    base,
		httpClient: rc,
		logger:     logger,
	}
}

// Send синхронно отправляет email и SMS.
func (c *Client) Send(ctx context.Context, req Request) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("notification client not configured")
	}

	return errors.Join(
		c.post(ctx, emailPath, req),
		c.post(ctx, smsPath, req),
	)
}

// Notify отправляет уведомление в фоне; ошибки только логируются.
func (c *Client) Notify(ctx context.Context, req Request) {
	if c == nil || c.baseURL == "" {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()

		if err := c.Send(sendCtx, req); err != nil {
			c.logger.Warn("notification failed",
				zap.String("account", req.AccountNumber),
				zap.String("transaction_type", req.TransactionType),
				zap.Error(err),
			)
		}
	}()
}

// Wait ожидает завершения фоновых отправок.
func (c *Client) Wait() {
	if c == nil {
		return
	}
	c.wg.Wait()
}

func (c *Client) post(ctx context.Context, path string, payload Request) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}

	return nil
}

type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
