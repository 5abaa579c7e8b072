package utility

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"google.golang.org/genproto/googleapis/type/money"
)

const NanoSize = 1000000000

var (
	ErrAmountMissing = errors.New("amount has no digits")

	ErrAmountNotPositive = errors.New("amount must be greater than zero")

	ErrAmountTooLarge = errors.New("amount is too large")
)

// ParseDisplayAmount turns a display string such as "KES 1,500" into an integer
// amount by keeping only its digits.
func ParseDisplayAmount(display string) (int64, error) {
	var digits strings.Builder
	for _, r := range display {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, ErrAmountMissing
	}

	amount, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		return 0, ErrAmountTooLarge
	}
	if amount <= 0 {
		return 0, ErrAmountNotPositive
	}
	return amount, nil
}

func ToMoney(currency string, amount decimal.Decimal) *money.Money {
	amount = CleanDecimal(amount)

	// Split the decimal value into units and nanos
	units := amount.IntPart()
	nanos := amount.Sub(decimal.NewFromInt(units)).Mul(decimal.NewFromInt(NanoSize)).IntPart()

	return &money.Money{CurrencyCode: currency, Units: units, Nanos: int32(nanos)}
}

var maxDecimalValue = decimal.NewFromInt(math.MaxInt64).Add(decimal.New(999999999, -9))

// CleanDecimal truncates to nine places and clamps into the NUMERIC(28,9) range.
func CleanDecimal(d decimal.Decimal) decimal.Decimal {
	rounded, _ := decimal.NewFromString(d.StringFixed(9))

	minValue := maxDecimalValue.Neg()
	if rounded.GreaterThan(maxDecimalValue) {
		return maxDecimalValue
	} else if rounded.LessThan(minValue) {
		return minValue
	}
	return rounded
}
