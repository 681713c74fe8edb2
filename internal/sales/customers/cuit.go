package customers

import (
	"errors"
	"strings"
)

var cuitWeights = [10]int{5, 4, 3, 2, 7, 6, 5, 4, 3, 2}

// ErrInvalidCUIT indicates a malformed CUIT or a wrong check digit.
var ErrInvalidCUIT = errors.New("customers: invalid CUIT")

// NormalizeCUIT strips separators and validates the modulo 11 check digit.
// The result is the bare 11 digit form.
func NormalizeCUIT(raw string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9':
			return r
		case r == '-' || r == ' ' || r == '.':
			return -1
		}
		return 'x'
	}, raw)
	if len(digits) != 11 || strings.ContainsRune(digits, 'x') {
		return "", ErrInvalidCUIT
	}
	sum := 0
	for i, w := range cuitWeights {
		sum += int(digits[i]-'0') * w
	}
	check := 11 - sum%11
	switch check {
	case 11:
		check = 0
	case 10:
		return "", ErrInvalidCUIT
	}
	if int(digits[10]-'0') != check {
		return "", ErrInvalidCUIT
	}
	return digits, nil
}

// FormatCUIT renders an 11 digit CUIT as XX-XXXXXXXX-X.
func FormatCUIT(cuit string) string {
	if len(cuit) != 11 {
		return cuit
	}
	return cuit[:2] + "-" + cuit[2:10] + "-" + cuit[10:]
}
