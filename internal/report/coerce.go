package report

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/AngelCh415/affilka-etl/internal/models"
)

// Coerce turns any report value into a float. It never fails: unparseable or
// out-of-range strings, nulls and arrays all yield 0. Booleans count as 1 and 0.
func Coerce(v models.Value) float64 {
	switch v.Kind {
	case models.KindBool:
		if v.Bool {
			return 1
		}
		return 0
	case models.KindNumber:
		return parseDecimal(v.Number.String())
	case models.KindString:
		return parseDecimal(strings.ReplaceAll(v.String, ",", ""))
	case models.KindObject:
		if a, ok := v.Field("amount"); ok && truthy(a) {
			return Coerce(a)
		}
		if a, ok := v.Field("amount_cents"); ok {
			return Coerce(a)
		}
	}
	return 0
}

// Amount extracts the monetary part of a value that may be a bare number or a
// nested object such as {"currency": "EUR", "amount": "12.50"}.
func Amount(v models.Value) float64 {
	if v.Kind != models.KindObject {
		return Coerce(v)
	}
	for _, k := range AmountKeys {
		if a, ok := v.Field(k); ok && truthy(a) {
			return Coerce(a)
		}
	}
	return 0
}

// maxMagnitude bounds the decimal exponent accepted by parseDecimal. Anything
// past it is outside float64 range and converting it costs time proportional
// to the exponent.
const maxMagnitude = 330

func parseDecimal(s string) float64 {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || d.IsZero() {
		return 0
	}
	mag := int64(d.NumDigits()) + int64(d.Exponent())
	if mag > maxMagnitude || mag < -maxMagnitude {
		return 0
	}
	f := d.InexactFloat64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}

// truthy reports whether a value counts as present when walking a fallback chain.
// Zero, empty and null values fall through to the next key.
func truthy(v models.Value) bool {
	switch v.Kind {
	case models.KindNull:
		return false
	case models.KindString:
		return v.String != ""
	case models.KindNumber:
		return parseDecimal(v.Number.String()) != 0
	case models.KindBool:
		return v.Bool
	case models.KindObject:
		return len(v.Object) > 0
	case models.KindArray:
		return len(v.Array) > 0
	}
	return false
}
