package executor

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/copytrader/pkg/model"
)

// nativeDecimals is the fixed-point precision of every amount in this domain.
const nativeDecimals = 18

// ConvertSlippageToBps turns a decimal fraction ("0.015") into basis points (150).
func ConvertSlippageToBps(slippage string) (int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(slippage))
	if err != nil {
		return 0, fmt.Errorf("%w: slippage %q", model.ErrInvalidJob, slippage)
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return 0, fmt.Errorf("%w: slippage %q out of range", model.ErrInvalidJob, slippage)
	}
	return int(d.Mul(decimal.NewFromInt(10000)).Round(0).IntPart()), nil
}

// ToBaseUnits returns floor(amount x 10^18) as an exact integer.
func ToBaseUnits(amount string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q", model.ErrInvalidJob, amount)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %q", model.ErrInvalidJob, amount)
	}
	return d.Shift(nativeDecimals).Floor().BigInt(), nil
}

// FromBaseUnits formats a base-unit integer as a decimal string for display.
func FromBaseUnits(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -nativeDecimals).String()
}

// floatToBaseUnits converts an observed float value via its shortest decimal form.
func floatToBaseUnits(v float64) *big.Int {
	return decimal.NewFromFloat(v).Shift(nativeDecimals).Floor().BigInt()
}
