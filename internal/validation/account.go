// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode"
)

// AccountNumberLength задаёт длину номера банковского счёта.
const AccountNumberLength = 10

// IsValidAccountNumber проверяет, что номер счёта состоит ровно из десяти цифр.
func IsValidAccountNumber(number string) bool {
	if len(number) != AccountNumberLength {
		return false
	}

	for _, ch := range number {
		if !unicode.IsDigit(ch) {
			return false
		}
	}

	return true
}

// NormalizeIdentifier убирает пробелы по краям идентификатора счёта или имени пользователя.
func NormalizeIdentifier(s string) string {
	return strings.TrimSpace(s)
}
