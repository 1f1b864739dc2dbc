package aggregate

import (
	"math/big"
	"time"
)

const ratioScale = 18

var yearSeconds = big.NewInt(int64(365 * 24 * time.Hour / time.Second))

func formatTokenAmount(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	if decimals == 0 {
		return value.String()
	}
	sign := value.Sign()
	abs := new(big.Int).Abs(value)
	rat := new(big.Rat).SetFrac(abs, decimalsDenom(decimals))
	text := rat.FloatString(int(decimals))
	if sign < 0 {
		return "-" + text
	}
	return text
}

// computeAvgDebt divides integrated debt by the window length.
func computeAvgDebt(debtSeconds *big.Int, windowSeconds uint64, decimals uint8) *string {
	if windowSeconds == 0 || debtSeconds == nil || debtSeconds.Sign() == 0 {
		return nil
	}
	denom := new(big.Int).Mul(new(big.Int).SetUint64(windowSeconds), decimalsDenom(decimals))
	val := new(big.Rat).SetFrac(debtSeconds, denom).FloatString(int(decimals))
	return &val
}

// computeAPR annualizes net result against time-weighted debt:
// (gain - loss) * year / debtSeconds.
func computeAPR(gain, loss, debtSeconds *big.Int) *string {
	if debtSeconds == nil || debtSeconds.Sign() == 0 {
		return nil
	}
	net := new(big.Int).Sub(gain, loss)
	if net.Sign() == 0 {
		zero := new(big.Rat).FloatString(ratioScale)
		return &zero
	}
	apr := new(big.Rat).SetFrac(net.Mul(net, yearSeconds), debtSeconds)
	val := apr.FloatString(ratioScale)
	return &val
}

func decimalsDenom(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
