package domain

import "github.com/shopspring/decimal"

const (
	moneyPlaces = 2
	costPlaces  = 4
)

// PaidTolerance absorbs rounding drift when deciding whether an invoice is settled.
var PaidTolerance = decimal.New(1, -2)

func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}

func RoundCost(d decimal.Decimal) decimal.Decimal {
	return d.Round(costPlaces)
}

func MaxZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Percent converts a percentage such as 12.5 into a multiplier.
func Percent(p decimal.Decimal) decimal.Decimal {
	return p.Div(decimal.NewFromInt(100))
}
