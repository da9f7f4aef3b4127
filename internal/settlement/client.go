// Package settlement предоставляет клиент внешней системы зачисления средств на счёт.
package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// StatusSuccess задаёт код успешного перевода во внешней системе.
const StatusSuccess = "00"

// ErrNotConfigured возвращается, если адрес системы зачисления не задан.
var ErrNotConfigured = errors.New("settlement client not configured")

// DeclinedError описывает отказ внешней системы в переводе.
type DeclinedError struct {
	HTTPStatus int
	Status     string
	Message    string
}

func (e *DeclinedError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("settlement declined: status %s: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("settlement declined: http %d: %s", e.HTTPStatus, e.Message)
}

// Credit описывает успешный результат зачисления.
type Credit struct {
	Reference string
	Amount    decimal.Decimal
}

type transferRequest struct {
	DrAccountNo     string          `json:"DrAccountNo"`
	CrAccountNo     string          `json:"CrAccountNo"`
	Amount          decimal.Decimal `json:"Amount"`
	RequestID       string          `json:"RequestId"`
	Source          string          `json:"Source"`
	Narration       string          `json:"Narration"`
	TransactionType string          `json:"TransactionType"`
}

type transferResponse struct {
	Status          string `json:"status"`
	ResponseMessage string `json:"responsemessage"`
	ID              string `json:"id"`
}

// Client инкапсулирует HTTP-взаимодействие с системой зачисления.
// Повторы не выполняются: повторный перевод опаснее явного отказа.
type Client struct {
	baseURL       string
	sourceAccount string
	httpClient    *http.Client
}

// NewClient создаёт клиента системы зачисления.
func NewClient(baseURL, sourceAccount string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		sourceAccount: sourceAccount,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreditAccount зачисляет сумму на счёт клиента со счёта программы лояльности.
func (c *Client) CreditAccount(ctx context.Context, accountNumber string, amount decimal.Decimal, reference string) (Credit, error) {
	if c == nil || c.baseURL == "" {
		return Credit{}, ErrNotConfigured
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	payload, err := json.Marshal(transferRequest{
		DrAccountNo:     c.sourceAccount,
		CrAccountNo:     accountNumber,
		Amount:          amount,
		RequestID:       reference,
		Source:          "LOYALTY",
		Narration:       "Loyalty Points Redemption " + reference,
		TransactionType: "Own Account",
	})
	if err != nil {
		return Credit{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/Transactions/IntraFundTransfer", bytes.NewReader(payload))
	if err != nil {
		return Credit{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Credit{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Credit{}, &DeclinedError{HTTPStatus: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var result transferResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Credit{}, fmt.Errorf("decode response: %w", err)
	}

	if result.Status != StatusSuccess {
		return Credit{}, &DeclinedError{HTTPStatus: resp.StatusCode, Status: result.Status, Message: result.ResponseMessage}
	}

	return Credit{Reference: result.ID, Amount: amount}, nil
}
