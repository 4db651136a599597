package chain

import (
	"strings"

	"github.com/shopspring/decimal"
)

var (
	baseFees = map[string]decimal.Decimal{
		"BTC":        decimal.RequireFromString("0.00005"),
		"LTC":        decimal.RequireFromString("0.0005"),
		"ETH":        decimal.RequireFromString("0.0005"),
		"USDT_ERC20": decimal.RequireFromString("3"),
		"BNB":        decimal.RequireFromString("0.0003"),
		"TRX":        decimal.RequireFromString("1"),
		"USDT_TRC20": decimal.RequireFromString("1.5"),
		"TON":        decimal.RequireFromString("0.02"),
	}
	defaultBaseFee = decimal.RequireFromString("0.001")
	feeStep        = decimal.RequireFromString("0.1")
)

// EstimateFee grows the network base fee by 10% per digit of the integer
// part of amount. Non-positive amounts pay the base fee.
func EstimateFee(network string, amount decimal.Decimal) decimal.Decimal {
	base, ok := baseFees[strings.ToUpper(network)]
	if !ok {
		base = defaultBaseFee
	}
	if !amount.IsPositive() {
		return base
	}
	digits := int64(len(amount.Truncate(0).String()))
	return base.Mul(decimal.NewFromInt(1).Add(feeStep.Mul(decimal.NewFromInt(digits))))
}
