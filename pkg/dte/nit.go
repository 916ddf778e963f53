package dte

import (
	"fmt"
)

// Validación de dígito verificador para NIT y DUI salvadoreños. Los documentos
// pueden venir con o sin guiones ("0614-290523-102-8" o "06142905231028").

// ValidateNIT valida el NIT (14 dígitos): módulo 11 sobre los primeros 13
// dígitos, tomados de derecha a izquierda con pesos cíclicos 2..7.
func ValidateNIT(nit string) error {
	digits := extractDigits(nit)
	if len(digits) != 14 {
		return fmt.Errorf("dte: el NIT debe tener 14 dígitos, se encontraron %d", len(digits))
	}
	expected := nitVerificationDigit(digits[:13])
	if digits[13] != expected {
		return fmt.Errorf("dte: dígito verificador del NIT inválido: esperado %c, recibido %c", expected, digits[13])
	}
	return nil
}

// ComputeNITVerificationDigit calcula el verificador para los 13 primeros
// dígitos; útil para completar el NIT antes de emitir.
func ComputeNITVerificationDigit(nit string) (byte, error) {
	digits := extractDigits(nit)
	if len(digits) < 13 {
		return 0, fmt.Errorf("dte: se requieren al menos 13 dígitos, se encontraron %d", len(digits))
	}
	return nitVerificationDigit(digits[:13]), nil
}

func nitVerificationDigit(base []byte) byte {
	// pesos 2..7 cíclicos, aplicados de derecha a izquierda
	sum := 0
	weight := 2
	for i := len(base) - 1; i >= 0; i-- {
		sum += int(base[i]-'0') * weight
		weight++
		if weight > 7 {
			weight = 2
		}
	}
	dv := sum % 11
	if dv == 10 {
		dv = 0
	}
	return byte('0' + dv)
}

// ValidateDUI valida el DUI (9 dígitos): módulo 10 con pesos 9..2 sobre los
// primeros 8 dígitos.
func ValidateDUI(dui string) error {
	digits := extractDigits(dui)
	if len(digits) != 9 {
		return fmt.Errorf("dte: el DUI debe tener 9 dígitos, se encontraron %d", len(digits))
	}
	sum := 0
	for i := 0; i < 8; i++ {
		sum += int(digits[i]-'0') * (9 - i)
	}
	expected := byte('0' + (10-sum%10)%10)
	if digits[8] != expected {
		return fmt.Errorf("dte: dígito verificador del DUI inválido: esperado %c, recibido %c", expected, digits[8])
	}
	return nil
}

func extractDigits(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			out = append(out, s[i])
		}
	}
	return out
}
