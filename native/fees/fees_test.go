package fees

import (
	"errors"
	"math"
	"testing"
)

func TestComputeSplitsWithFloorRounding(t *testing.T) {
	fee, payout, err := Compute(10_000, 250)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if fee != 250 || payout != 9_750 {
		t.Fatalf("unexpected split fee=%d payout=%d", fee, payout)
	}

	// 999 * 250 / 10000 = 24.975, floor to 24.
	fee, payout, err = Compute(999, 250)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if fee != 24 || payout != 975 {
		t.Fatalf("unexpected rounded split fee=%d payout=%d", fee, payout)
	}
}

func TestComputeZeroFee(t *testing.T) {
	fee, payout, err := Compute(12345, 0)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if fee != 0 || payout != 12345 {
		t.Fatalf("unexpected split fee=%d payout=%d", fee, payout)
	}
}

func TestComputeRejectsFeeAboveCap(t *testing.T) {
	if _, _, err := Compute(1000, MaxFeeBasisPoints+1); !errors.Is(err, ErrFeeTooHigh) {
		t.Fatalf("expected ErrFeeTooHigh, got %v", err)
	}
}

func TestComputeRejectsZeroAmount(t *testing.T) {
	if _, _, err := Compute(0, 100); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
}

func TestComputeMaxAmountDoesNotOverflow(t *testing.T) {
	fee, payout, err := Compute(math.MaxUint64, MaxFeeBasisPoints)
	if err != nil {
		t.Fatalf("compute at max amount: %v", err)
	}
	if fee == 0 || payout == 0 {
		t.Fatalf("unexpected zero result fee=%d payout=%d", fee, payout)
	}
	if fee+payout != math.MaxUint64 {
		t.Fatalf("split does not add up: fee=%d payout=%d", fee, payout)
	}
}

func TestSumAmounts(t *testing.T) {
	total, err := SumAmounts([]uint64{1, 2, 3})
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if total != 6 {
		t.Fatalf("expected 6, got %d", total)
	}
}

func TestSumAmountsRejectsOverflow(t *testing.T) {
	if _, err := SumAmounts([]uint64{math.MaxUint64, 1}); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}
