// Package model содержит доменные сущности сервиса лояльности KeyLoyalty.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tier описывает уровень участника программы лояльности. Порядок значений важен.
type Tier int

const (
	TierBronze Tier = iota + 1
	TierSilver
	TierGold
	TierPlatinum
	TierDiamond
)

var tierNames = map[Tier]string{
	TierBronze:   "Bronze",
	TierSilver:   "Silver",
	TierGold:     "Gold",
	TierPlatinum: "Platinum",
	TierDiamond:  "Diamond",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// MarshalText сериализует уровень по имени.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText разбирает уровень по имени без учёта регистра.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTier возвращает уровень по его имени.
func ParseTier(s string) (Tier, error) {
	for tier, name := range tierNames {
		if strings.EqualFold(name, s) {
			return tier, nil
		}
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

// CustomerLoyalty хранит баланс баллов и уровень одного пользователя.
type CustomerLoyalty struct {
	UserID           string    `json:"userId"`
	TotalPoints      int64     `json:"totalPoints"`
	Tier             Tier      `json:"tier"`
	LastUpdated      time.Time `json:"lastUpdated"`
	PointsExpiryDate time.Time `json:"pointsExpiryDate"`
}

// TransactionType описывает вид банковской операции или погашения.
type TransactionType string

const (
	TransactionTransfer    TransactionType = "TRANSFER"
	TransactionAirtime     TransactionType = "AIRTIME"
	TransactionBillPayment TransactionType = "BILL_PAYMENT"
	// TransactionClearPoints используется администратором для обнуления баланса.
	TransactionClearPoints TransactionType = "CLEAR_POINTS"
)

// ParseTransactionType нормализует тип операции. Пустое и неизвестное значение трактуются как перевод.
func ParseTransactionType(s string) TransactionType {
	upper := strings.ToUpper(strings.TrimSpace(s))
	switch {
	case upper == string(TransactionClearPoints):
		return TransactionClearPoints
	case strings.Contains(upper, "AIRTIME"), strings.Contains(upper, "DATA"):
		return TransactionAirtime
	case strings.Contains(upper, "BILL"):
		return TransactionBillPayment
	default:
		return TransactionTransfer
	}
}

// ProcessedTransaction фиксирует внешнюю операцию, за которую баллы уже начислялись.
type ProcessedTransaction struct {
	TransactionID string
	ProcessedDate time.Time
}

// EventBase содержит поля, общие для всех событий лояльности.
type EventBase struct {
	TransactionID string          `json:"transactionId"`
	AccountNumber string          `json:"accountNumber"`
	Amount        decimal.Decimal `json:"amount"`
	Timestamp     time.Time       `json:"timestamp"`
}

// LoyaltyEvent представляет событие о новой операции, подходящей для начисления баллов.
// Набор реализаций закрыт: TransferEvent, AirtimeEvent, BillPaymentEvent.
type LoyaltyEvent interface {
	Base() EventBase
	Type() TransactionType
}

// TransferEvent описывает перевод средств.
type TransferEvent struct {
	EventBase
	DebitAccount  string `json:"debitAccount"`
	CreditAccount string `json:"creditAccount"`
	Channel       string `json:"channel"`
}

func (e TransferEvent) Base() EventBase       { return e.EventBase }
func (e TransferEvent) Type() TransactionType { return TransactionTransfer }

// AirtimeEvent описывает покупку эфирного времени или мобильного интернета.
type AirtimeEvent struct {
	EventBase
	Network     string `json:"network"`
	PhoneNumber string `json:"phoneNumber"`
}

func (e AirtimeEvent) Base() EventBase       { return e.EventBase }
func (e AirtimeEvent) Type() TransactionType { return TransactionAirtime }

// BillPaymentEvent описывает оплату счёта.
type BillPaymentEvent struct {
	EventBase
	Biller      string `json:"biller"`
	CustomerRef string `json:"customerRef"`
}

func (e BillPaymentEvent) Base() EventBase       { return e.EventBase }
func (e BillPaymentEvent) Type() TransactionType { return TransactionBillPayment }

// RedemptionStatus описывает состояние отслеживаемого погашения.
type RedemptionStatus string

const (
	RedemptionPending    RedemptionStatus = "PENDING"
	RedemptionConfirmed  RedemptionStatus = "CONFIRMED"
	RedemptionRolledBack RedemptionStatus = "ROLLED_BACK"
)

// PendingRedemption описывает долговременную запись саги погашения.
type PendingRedemption struct {
	TransactionID   string           `json:"transactionId"`
	AccountNumber   string           `json:"accountNumber"`
	UserID          string           `json:"userId"`
	PointsUsed      int64            `json:"pointsUsed"`
	AmountUsed      decimal.Decimal  `json:"amountUsed"`
	TransactionType TransactionType  `json:"transactionType"`
	OriginalPoints  int64            `json:"originalPoints"`
	Status          RedemptionStatus `json:"status"`
	RollbackReason  string           `json:"rollbackReason,omitempty"`
	CreatedDate     time.Time        `json:"createdDate"`
	UpdatedDate     time.Time        `json:"updatedDate"`
}

// Earmarked сообщает, что ценность погашения зарезервирована, но не переведена внешней системой.
func (p PendingRedemption) Earmarked() bool {
	return p.TransactionType == TransactionAirtime || p.TransactionType == TransactionBillPayment
}

// AccountingEntry описывает одну проводку двойной записи.
type AccountingEntry struct {
	GLAccount     string          `json:"glAccount"`
	DebitAmount   decimal.Decimal `json:"debitAmount"`
	CreditAmount  decimal.Decimal `json:"creditAmount"`
	Description   string          `json:"description"`
	TransactionID string          `json:"transactionId"`
	AccountNumber string          `json:"accountNumber"`
	CreatedDate   time.Time       `json:"createdDate"`
}

// AlertType описывает вид уведомления о событии лояльности.
type AlertType string

const (
	AlertEarning        AlertType = "EARNING"
	AlertRedemption     AlertType = "REDEMPTION"
	AlertTierUpgrade    AlertType = "TIER_UPGRADE"
	AlertExpired        AlertType = "EXPIRED"
	AlertExpiryReminder AlertType = "EXPIRY_REMINDER"
)

// Alert описывает уведомление пользователя о событии лояльности.
type Alert struct {
	ID            uuid.UUID `json:"id"`
	UserID        string    `json:"userId"`
	AccountNumber string    `json:"accountNumber,omitempty"`
	Type          AlertType `json:"type"`
	Message       string    `json:"message"`
	Points        int64     `json:"points"`
	CreatedDate   time.Time `json:"createdDate"`
}

// RedemptionResult содержит итог попытки погашения баллов.
type RedemptionResult struct {
	Success             bool             `json:"success"`
	Message             string           `json:"message"`
	TransactionID       string           `json:"transactionId,omitempty"`
	PointsRedeemed      int64            `json:"pointsRedeemed"`
	AmountCredited      decimal.Decimal  `json:"amountCredited"`
	RemainingPoints     int64            `json:"remainingPoints"`
	Tier                Tier             `json:"tier"`
	Status              RedemptionStatus `json:"status,omitempty"`
	SettlementReference string           `json:"settlementReference,omitempty"`
}

// EarningRule описывает строку таблицы начисления баллов.
type EarningRule struct {
	TransactionType TransactionType `json:"transactionType"`
	Label           string          `json:"label"`
	Points          int64           `json:"points"`
}

// TierInfo описывает строку таблицы уровней.
type TierInfo struct {
	Tier      Tier   `json:"tier"`
	Range     string `json:"range"`
	MinPoints int64  `json:"minPoints"`
	IsActive  bool   `json:"isActive"`
}

// Dashboard содержит сводку лояльности пользователя.
type Dashboard struct {
	UserID           string        `json:"userId"`
	AccountNumbers   []string      `json:"accountNumbers"`
	TotalPoints      int64         `json:"totalPoints"`
	Tier             Tier          `json:"tier"`
	PointsToNextTier int64         `json:"pointsToNextTier"`
	PointsExpiryDate time.Time     `json:"pointsExpiryDate"`
	EarningRules     []EarningRule `json:"earningRules"`
	Tiers            []TierInfo    `json:"tiers"`
}

// RedemptionOption описывает доступный способ погашения баллов.
type RedemptionOption struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description" yaml:"description"`
	Type        TransactionType `json:"type" yaml:"type"`
	MinPoints   int64           `json:"minPoints" yaml:"min_points"`
}

// TransactionRecord описывает строку внешнего журнала операций.
type TransactionRecord struct {
	Reference       string          `json:"reference"`
	RequestID       string          `json:"requestId,omitempty"`
	TransactionType string          `json:"transactionType"`
	DebitAccount    string          `json:"debitAccount"`
	CreditAccount   string          `json:"creditAccount"`
	Amount          decimal.Decimal `json:"amount"`
	StatusCode      string          `json:"statusCode"`
	Narration       string          `json:"narration,omitempty"`
	Biller          string          `json:"biller,omitempty"`
	Network         string          `json:"network,omitempty"`
	Username        string          `json:"username,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// CreditStatus описывает состояние зачисления по погашению.
type CreditStatus struct {
	TransactionID string             `json:"transactionId"`
	Status        RedemptionStatus   `json:"status"`
	Credited      bool               `json:"credited"`
	Credit        *TransactionRecord `json:"credit,omitempty"`
}
