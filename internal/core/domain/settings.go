package domain

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	SettingTaxRate                  = "tax_rate"
	SettingMinimumOrderAmount       = "minimum_order_amount"
	SettingAllowGuestCheckout       = "allow_guest_checkout"
	SettingRequireAccount           = "require_account"
	SettingRequireEmailVerification = "require_email_verification"
	SettingOrderNumberPrefix        = "order_number_prefix"
	SettingCommissionRate           = "commission_rate"
)

var (
	DefaultTaxRate        = decimal.RequireFromString("12.5")
	DefaultCommissionRate = decimal.NewFromInt(5)
)

const DefaultOrderPrefix = "ORD"

// StoreSettings is the typed view of the settings key/value store.
type StoreSettings struct {
	TaxRate                  decimal.Decimal
	MinimumOrderAmount       decimal.Decimal
	AllowGuestCheckout       bool
	RequireAccount           bool
	RequireEmailVerification bool
	OrderNumberPrefix        string
	CommissionRate           decimal.Decimal
}

func SettingKeys() []string {
	return []string{
		SettingTaxRate, SettingMinimumOrderAmount, SettingAllowGuestCheckout, SettingRequireAccount,
		SettingRequireEmailVerification, SettingOrderNumberPrefix, SettingCommissionRate,
	}
}

// ParseStoreSettings applies defaults for missing or unparsable values.
func ParseStoreSettings(kv map[string]string) StoreSettings {
	return StoreSettings{
		TaxRate:                  parseDecimal(kv[SettingTaxRate], DefaultTaxRate),
		MinimumOrderAmount:       parseDecimal(kv[SettingMinimumOrderAmount], decimal.Zero),
		AllowGuestCheckout:       parseBool(kv[SettingAllowGuestCheckout], true),
		RequireAccount:           parseBool(kv[SettingRequireAccount], false),
		RequireEmailVerification: parseBool(kv[SettingRequireEmailVerification], false),
		OrderNumberPrefix:        parseString(kv[SettingOrderNumberPrefix], DefaultOrderPrefix),
		CommissionRate:           parseDecimal(kv[SettingCommissionRate], DefaultCommissionRate),
	}
}

func parseDecimal(v string, def decimal.Decimal) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil || d.IsNegative() {
		return def
	}
	return d
}

func parseBool(v string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

func parseString(v, def string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	return v
}
