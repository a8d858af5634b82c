package sii

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ValidateRUT valida que el RUT (con o sin puntos/guion) tenga dígito verificador correcto
// según el algoritmo módulo 11 del SII. Acepta "76.123.456-0", "76123456-0" o "761234560".
func ValidateRUT(rut string) error {
	body, dv, err := SplitRUT(rut)
	if err != nil {
		return err
	}
	expected := ComputeDV(body)
	if dv != expected {
		return fmt.Errorf("sii: dígito verificador del RUT inválido: esperado %c, recibido %c", expected, dv)
	}
	return nil
}

// SplitRUT separa el cuerpo numérico y el dígito verificador (mayúscula).
func SplitRUT(rut string) (body int, dv byte, err error) {
	var clean []rune
	for _, r := range strings.TrimSpace(rut) {
		if unicode.IsDigit(r) || r == 'k' || r == 'K' {
			clean = append(clean, unicode.ToUpper(r))
		}
	}
	if len(clean) < 2 {
		return 0, 0, fmt.Errorf("sii: RUT %q demasiado corto", rut)
	}
	body, err = strconv.Atoi(string(clean[:len(clean)-1]))
	if err != nil {
		return 0, 0, fmt.Errorf("sii: cuerpo del RUT %q no numérico", rut)
	}
	return body, byte(clean[len(clean)-1]), nil
}

// ComputeDV calcula el dígito verificador para el cuerpo del RUT (serie 2..7).
func ComputeDV(body int) byte {
	sum, factor := 0, 2
	for n := body; n > 0; n /= 10 {
		sum += (n % 10) * factor
		factor++
		if factor > 7 {
			factor = 2
		}
	}
	switch r := 11 - sum%11; r {
	case 11:
		return '0'
	case 10:
		return 'K'
	default:
		return byte('0' + r)
	}
}

// NormalizeRUT devuelve el RUT en formato canónico del XML DTE: "76123456-0".
func NormalizeRUT(rut string) (string, error) {
	body, dv, err := SplitRUT(rut)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d-%c", body, dv), nil
}
