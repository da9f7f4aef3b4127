// Package translog читает внешний журнал банковских операций, в который сервис не пишет.
package translog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	// Драйверы журнала: pgx для рабочей базы, sqlite3 для локального запуска и тестов.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mmeshcher/keyloyalty/internal/model"
)

// StatusSuccess задаёт код успешной операции во внешнем журнале.
const StatusSuccess = "00"

// ErrNotFound возвращается, если подходящая операция не найдена.
var ErrNotFound = errors.New("transaction not found")

// Group описывает группу типов операций, за которые начисляются баллы.
type Group struct {
	Kind  model.TransactionType
	Types []string
}

// Groups перечисляет группы операций, опрашиваемые независимо друг от друга.
var Groups = []Group{
	{Kind: model.TransactionAirtime, Types: []string{"Airtime", "MobileData"}},
	{Kind: model.TransactionBillPayment, Types: []string{"BillsPayment"}},
	{Kind: model.TransactionTransfer, Types: []string{"NIP", "Internal", "OwnInternal", "InterBank", "NQR"}},
}

var creditTypes = []string{"Credit", "Transfer", "NIP"}

const selectColumns = `requestid, COALESCE(reference, ''), transactiontype, draccount, COALESCE(craccount, ''),
	amount, txnstatus, COALESCE(narration, ''), COALESCE(billername, ''), COALESCE(usernetwork, ''),
	COALESCE(username, ''), transactiondate`

// Reader выполняет запросы только на чтение к журналу операций.
type Reader struct {
	db *sql.DB
}

// Open открывает журнал с указанным драйвером database/sql.
func Open(driver, dsn string) (*Reader, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open transaction log: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping transaction log: %w", err)
	}

	return &Reader{db: db}, nil
}

// NewReader оборачивает уже открытое соединение.
func NewReader(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// Close закрывает соединение с журналом.
func (r *Reader) Close() error {
	return r.db.Close()
}

// FetchSince возвращает успешные операции группы, совершённые после since, от новых к старым.
func (r *Reader) FetchSince(ctx context.Context, g Group, since time.Time) ([]model.TransactionRecord, error) {
	in, args := placeholders(1, g.Types)
	args = append(args, StatusSuccess, since.UTC())

	query := `SELECT ` + selectColumns + `
		FROM omni_transactions
		WHERE transactiontype IN (` + in + `)
		  AND txnstatus = $` + strconv.Itoa(len(g.Types)+1) + `
		  AND transactiondate > $` + strconv.Itoa(len(g.Types)+2) + `
		ORDER BY transactiondate DESC`

	records, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch %s transactions: %w", g.Kind, err)
	}
	return records, nil
}

// RecentForAccounts возвращает последние операции по счетам пользователя.
func (r *Reader) RecentForAccounts(ctx context.Context, accounts []string, since time.Time, limit int) ([]model.TransactionRecord, error) {
	if len(accounts) == 0 {
		return nil, nil
	}

	in, args := placeholders(1, accounts)
	args = append(args, since.UTC(), limit)

	query := `SELECT ` + selectColumns + `
		FROM omni_transactions
		WHERE draccount IN (` + in + `)
		  AND transactiondate > $` + strconv.Itoa(len(accounts)+1) + `
		ORDER BY transactiondate DESC
		LIMIT $` + strconv.Itoa(len(accounts)+2)

	records, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent transactions: %w", err)
	}
	return records, nil
}

// FindCredit ищет зачисление на счёт по ссылке погашения.
func (r *Reader) FindCredit(ctx context.Context, reference, accountNumber string) (*model.TransactionRecord, error) {
	in, args := placeholders(1, creditTypes)
	n := len(creditTypes)
	args = append(args, accountNumber, reference, "%"+reference+"%")

	query := `SELECT ` + selectColumns + `
		FROM omni_transactions
		WHERE transactiontype IN (` + in + `)
		  AND craccount = $` + strconv.Itoa(n+1) + `
		  AND (requestid = $` + strconv.Itoa(n+2) + ` OR narration LIKE $` + strconv.Itoa(n+3) + `)
		ORDER BY transactiondate DESC
		LIMIT 1`

	records, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find credit: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return &records[0], nil
}

func (r *Reader) query(ctx context.Context, query string, args ...any) ([]model.TransactionRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.TransactionRecord
	for rows.Next() {
		var rec model.TransactionRecord
		if err := rows.Scan(&rec.RequestID, &rec.Reference, &rec.TransactionType, &rec.DebitAccount,
			&rec.CreditAccount, &rec.Amount, &rec.StatusCode, &rec.Narration, &rec.Biller,
			&rec.Network, &rec.Username, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if rec.Reference == "" {
			rec.Reference = rec.RequestID
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	return records, nil
}

func placeholders(start int, values []string) (string, []any) {
	marks := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		marks[i] = "$" + strconv.Itoa(start+i)
		args[i] = v
	}
	return strings.Join(marks, ", "), args
}
