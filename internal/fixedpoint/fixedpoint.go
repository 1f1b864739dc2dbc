// Package fixedpoint implements 256-bit integer arithmetic with explicit rounding.
package fixedpoint

import (
	"fmt"

	"github.com/holiman/uint256"

	"vaultledger/internal/errs"
)

// MaxBps is 100% expressed in basis points.
const MaxBps = 10_000

// Rounding selects the direction of a division remainder.
type Rounding int

const (
	Floor Rounding = iota
	Ceil
)

func (r Rounding) String() string {
	if r == Ceil {
		return "ceil"
	}
	return "floor"
}

// MulDiv returns x*y/d rounded in the given direction. The product is computed
// at 512-bit width so only a quotient above 2^256-1 overflows.
func MulDiv(x, y, d *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("%w: division by zero", errs.ErrInvalidArgument)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, errs.ErrOverflow
	}
	if rounding == Ceil && !new(uint256.Int).MulMod(x, y, d).IsZero() {
		if z, overflow = new(uint256.Int).AddOverflow(z, uint256.NewInt(1)); overflow {
			return nil, errs.ErrOverflow
		}
	}
	return z, nil
}

// BpsOf returns floor(amount * bps / MaxBps).
func BpsOf(amount *uint256.Int, bps uint16) *uint256.Int {
	if bps == 0 || amount.IsZero() {
		return new(uint256.Int)
	}
	// bps <= 65535 and the divisor is non-zero, so MulDiv cannot fail.
	z, _ := MulDiv(amount, uint256.NewInt(uint64(bps)), uint256.NewInt(MaxBps), Floor)
	return z
}

// Min returns a copy of the smaller of a and b.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}

// Add returns a+b or ErrOverflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, errs.ErrOverflow
	}
	return z, nil
}

// Sub returns a-b, or ErrOverflow when b > a.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, errs.ErrOverflow
	}
	return z, nil
}

// SaturatingSub returns max(a-b, 0).
func SaturatingSub(a, b *uint256.Int) *uint256.Int {
	if b.Gt(a) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}

// MaxUint256 returns 2^256-1.
func MaxUint256() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

// Parse reads a base-10 amount.
func Parse(s string) (*uint256.Int, error) {
	z, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q: %v", errs.ErrInvalidArgument, s, err)
	}
	return z, nil
}
