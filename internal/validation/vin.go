// Package validation содержит функции валидации входных данных.
package validation

import "strings"

const vinLength = 17

// NormalizeVIN приводит VIN к каноническому виду: верхний регистр без пробелов по краям.
func NormalizeVIN(vin string) string {
	return strings.ToUpper(strings.TrimSpace(vin))
}

// IsValidVIN проверяет корректность VIN: ровно 17 символов
// из алфавита A-Z0-9 без букв I, O и Q.
func IsValidVIN(vin string) bool {
	if len(vin) != vinLength {
		return false
	}

	for _, ch := range vin {
		switch {
		case ch >= '0' && ch <= '9':
		case ch >= 'A' && ch <= 'Z':
			if ch == 'I' || ch == 'O' || ch == 'Q' {
				return false
			}
		default:
			return false
		}
	}

	return true
}
