package txbuild

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// Decimals is the token's on-chain precision.
	Decimals = 6
	// DefaultBlockTime is the nominal interval between blocks.
	DefaultBlockTime = 10 * time.Minute
)

var (
	microPerUnit = big.NewInt(1_000_000)
	half         = big.NewRat(1, 2)

	decimalPattern = regexp.MustCompile(`^(\d+(\.\d+)?|\.\d+)$`)

	ErrInvalidAmount = errors.New("invalid amount")
	ErrPastDate      = errors.New("date is not in the future")
)

// ToMicro converts a decimal display amount to micro-units. The scaled value
// is rounded half-up, so "0.0000005" becomes 1 and never 0. Arithmetic is
// exact; no float is involved.
func ToMicro(amount string) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	// big.Rat also accepts fractions, exponents and base prefixes.
	if !decimalPattern.MatchString(amount) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	r, ok := new(big.Rat).SetString(amount)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	r.Mul(r, new(big.Rat).SetInt(microPerUnit))
	r.Add(r, half)
	return new(big.Int).Quo(r.Num(), r.Denom()), nil
}

// FloatToMicro converts via the shortest decimal that round-trips f, so
// 19.999999 is read as written rather than as its binary approximation.
func FloatToMicro(f float64) (*big.Int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, f)
	}
	return ToMicro(strconv.FormatFloat(f, 'f', -1, 64))
}

// FormatMicro renders micro-units as a decimal with at least two and at most
// six fractional digits.
func FormatMicro(n *big.Int) string {
	if n == nil {
		return "0.00"
	}
	sign := ""
	abs := new(big.Int).Set(n)
	if abs.Sign() < 0 {
		sign = "-"
		abs.Neg(abs)
	}
	whole, frac := new(big.Int).QuoRem(abs, microPerUnit, new(big.Int))
	digits := fmt.Sprintf("%06d", frac.Int64())
	digits = strings.TrimRight(digits, "0")
	for len(digits) < 2 {
		digits += "0"
	}
	return sign + whole.String() + "." + digits
}

// HeightFor estimates the chain height reached at date, rounding partial
// blocks up: height + ceil((date-now)/blockTime). The nominal block time is
// an approximation, so the result is too.
func HeightFor(now, date time.Time, height uint64, blockTime time.Duration) (uint64, error) {
	if blockTime <= 0 {
		return 0, fmt.Errorf("block time must be positive, got %s", blockTime)
	}
	diff := date.Sub(now)
	if diff <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrPastDate, date.Format(time.RFC3339))
	}
	blocks := uint64((diff + blockTime - 1) / blockTime)
	return height + blocks, nil
}
