// Package math holds the fixed-point helpers used for money arithmetic.
// All amounts are int64 counts of the ledger currency's minor unit.
package math

import (
	"fmt"
	"math/big"
	"sync"
)

// BasisPointScale is the denominator for rates expressed in basis points
// (1 bp = 0.01%).
const BasisPointScale int64 = 10_000

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

// NewDecimalConfig builds a config for the given number of decimal places.
func NewDecimalConfig(precision int) DecimalConfig {
	scale := int64(1)
	for i := 0; i < precision; i++ {
		scale *= 10
	}
	return DecimalConfig{DecimalPrecision: precision, Scale: scale}
}

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding (default)
	RoundDown
	RoundUp
)

func (m RoundingMode) String() string {
	switch m {
	case RoundHalfEven:
		return "half_even"
	case RoundDown:
		return "down"
	case RoundUp:
		return "up"
	default:
		return "unknown"
	}
}

// MultiplyInt128 performs a * b using int128 to prevent overflow.
// The result comes from a pool; release it with DivideInt128 or putInt128.
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with rounding. Both operands
// must be non-negative and denominator positive.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.QuoRem(numerator, denom, remainder)

	result := quotient.Int64()

	if remainder.Sign() != 0 {
		switch roundingMode {
		case RoundHalfEven:
			// Compare 2*remainder against the denominator so odd denominators
			// are handled exactly.
			twice := getInt128()
			twice.Lsh(remainder, 1)
			cmp := twice.Cmp(denom)
			putInt128(twice)

			if cmp > 0 || (cmp == 0 && result%2 != 0) {
				result++
			}
		case RoundUp:
			result++
		case RoundDown:
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

// MulDiv computes a * b / denominator with the given rounding, without
// intermediate overflow. Operands must be non-negative.
func MulDiv(a, b, denominator int64, mode RoundingMode) (int64, error) {
	if a < 0 || b < 0 {
		return 0, fmt.Errorf("muldiv: negative operand (%d, %d)", a, b)
	}
	if denominator <= 0 {
		return 0, fmt.Errorf("muldiv: non-positive denominator %d", denominator)
	}

	product := MultiplyInt128(a, b)
	defer putInt128(product)

	quotient := getInt128()
	quotient.Quo(product, big.NewInt(denominator))
	fits := quotient.IsInt64()
	putInt128(quotient)
	if !fits {
		return 0, fmt.Errorf("muldiv: %d * %d / %d overflows int64", a, b, denominator)
	}

	return DivideInt128(product, denominator, mode), nil
}

// ApplyBasisPoints returns amount * bps / 10_000 rounded with mode.
func ApplyBasisPoints(amount, bps int64, mode RoundingMode) (int64, error) {
	return MulDiv(amount, bps, BasisPointScale, mode)
}

// CheckedAdd returns a + b or an error on int64 overflow.
func CheckedAdd(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, fmt.Errorf("add overflow: %d + %d", a, b)
	}
	return sum, nil
}

// CheckedMul returns a * b or an error on int64 overflow.
func CheckedMul(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	product := a * b
	if product/b != a {
		return 0, fmt.Errorf("mul overflow: %d * %d", a, b)
	}
	return product, nil
}
