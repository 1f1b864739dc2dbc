package fixedpoint

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"vaultledger/internal/errs"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestMulDivRounding(t *testing.T) {
	floor, err := MulDiv(u(1), u(100), u(190), Floor)
	if err != nil {
		t.Fatalf("floor: %v", err)
	}
	if floor.Uint64() != 0 {
		t.Fatalf("floor mismatch: %s", floor)
	}

	ceil, err := MulDiv(u(1), u(100), u(190), Ceil)
	if err != nil {
		t.Fatalf("ceil: %v", err)
	}
	if ceil.Uint64() != 1 {
		t.Fatalf("ceil mismatch: %s", ceil)
	}

	exact, err := MulDiv(u(19), u(100), u(190), Ceil)
	if err != nil {
		t.Fatalf("exact: %v", err)
	}
	if exact.Uint64() != 10 {
		t.Fatalf("exact ceil should not round: %s", exact)
	}
}

func TestMulDivWideProduct(t *testing.T) {
	max := MaxUint256()
	got, err := MulDiv(max, u(3), u(3), Floor)
	if err != nil {
		t.Fatalf("wide product: %v", err)
	}
	if !got.Eq(max) {
		t.Fatalf("expected max, got %s", got)
	}

	if _, err := MulDiv(max, u(3), u(2), Floor); !errors.Is(err, errs.ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := MulDiv(max, u(1), u(1), Ceil); err != nil {
		t.Fatalf("exact max ceil: %v", err)
	}
}

func TestMulDivZeroDivisor(t *testing.T) {
	if _, err := MulDiv(u(1), u(1), u(0), Floor); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestBpsOf(t *testing.T) {
	if got := BpsOf(u(45), 1000); got.Uint64() != 4 {
		t.Fatalf("45 @ 10%% = %s", got)
	}
	if got := BpsOf(u(50), 1000); got.Uint64() != 5 {
		t.Fatalf("50 @ 10%% = %s", got)
	}
	if got := BpsOf(u(50), 0); !got.IsZero() {
		t.Fatalf("zero bps = %s", got)
	}
}

func TestSubUnderflow(t *testing.T) {
	if _, err := Sub(u(1), u(2)); !errors.Is(err, errs.ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if got := SaturatingSub(u(1), u(2)); !got.IsZero() {
		t.Fatalf("saturating sub = %s", got)
	}
}

func TestParse(t *testing.T) {
	got, err := Parse("1000000000000000000000")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.ToBig().String() != "1000000000000000000000" {
		t.Fatalf("parse mismatch: %s", got.ToBig())
	}
	if _, err := Parse("-1"); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}
