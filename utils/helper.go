package utils

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

func IsValidEmail(email string) bool {
	// Basic email validation regex pattern
	pattern := `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	regex := regexp.MustCompile(pattern)
	return regex.MatchString(email)
}

func ProcessValidationErrors(err error) map[string]string {

	validationErrors := err.(validator.ValidationErrors)

	errorResponse := make(map[string]string)

	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}

	return errorResponse
}

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func DereferencePtr[T any](ptr *T) T {
	var zero T
	if ptr == nil {
		return zero
	}
	return *ptr
}

func UniqueSlice[T comparable](input []T) []T {
	seen := make(map[T]struct{}, len(input))
	out := make([]T, 0, len(input))
	for _, v := range input {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

/* Money */

// All amounts are persisted as integer minor units (kobo, USDT cents).
// Decimal is used for rate math only; these are the two crossing points.

func MinorUnitsToDecimal(amount int64) decimal.Decimal {
	return decimal.NewFromInt(amount).Div(decimal.NewFromInt(100))
}

func DecimalToMinorUnits(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).IntPart()
}

// PercentOfMinorUnits computes rate% of an amount in minor units, truncating
// fractional minor units (floor for non-negative amounts).
func PercentOfMinorUnits(amount int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(rate).Div(decimal.NewFromInt(100)).IntPart()
}

/* Chain addresses */

// NormalizeHexAddress lowercases a 0x-prefixed hex address for comparison.
// BSC addresses are case-insensitive apart from the EIP-55 display checksum.
func NormalizeHexAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func SameHexAddress(a, b string) bool {
	return NormalizeHexAddress(a) != "" && NormalizeHexAddress(a) == NormalizeHexAddress(b)
}
