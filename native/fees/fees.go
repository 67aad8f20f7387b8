package fees

import (
	"errors"

	"github.com/holiman/uint256"
)

// MaxFeeBasisPoints caps the protocol fee rate at 10%.
const MaxFeeBasisPoints uint16 = 1000

// BasisPointsDenominator is the basis-point scale: 10000 = 100%.
const BasisPointsDenominator uint64 = 10_000

var (
	// ErrFeeTooHigh marks a fee rate above MaxFeeBasisPoints.
	ErrFeeTooHigh = errors.New("fees: fee basis points exceeds maximum")
	// ErrZeroAmount marks a zero escrow amount.
	ErrZeroAmount = errors.New("fees: amount must be greater than zero")
	// ErrOverflow marks arithmetic overflow in the fee computation.
	ErrOverflow = errors.New("fees: arithmetic overflow")
)

// Compute splits amount into the protocol fee and the recipient payout. The
// fee is floor(amount * feeBps / 10000), computed through a wide intermediate
// so the multiplication can never wrap. Floor rounding means cumulative
// per-milestone fees may undershoot a single-shot fee on the same total by at
// most one unit per milestone.
func Compute(amount uint64, feeBps uint16) (fee uint64, payout uint64, err error) {
	if feeBps > MaxFeeBasisPoints {
		return 0, 0, ErrFeeTooHigh
	}
	if amount == 0 {
		return 0, 0, ErrZeroAmount
	}
	product := new(uint256.Int).Mul(
		uint256.NewInt(amount),
		uint256.NewInt(uint64(feeBps)),
	)
	product.Div(product, uint256.NewInt(BasisPointsDenominator))
	if !product.IsUint64() {
		return 0, 0, ErrOverflow
	}
	fee = product.Uint64()
	if fee > amount {
		return 0, 0, ErrOverflow
	}
	return fee, amount - fee, nil
}

// SumAmounts adds a series of u64 amounts, failing on overflow. Used to fix a
// milestone escrow's total at creation.
func SumAmounts(amounts []uint64) (uint64, error) {
	var total uint64
	for _, a := range amounts {
		sum := total + a
		if sum < total {
			return 0, ErrOverflow
		}
		total = sum
	}
	return total, nil
}
