// Package timestamp provides rational time bases, rescaling between them, and
// the per-edge Mapper that keeps timestamps continuous across a time-base
// boundary.
//
// Timestamps are int64 ticks of a Rational time base. NoValue marks an absent
// timestamp and is never rescaled.
package timestamp

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/c360/avflow/errors"
)

// NoValue marks an unset timestamp.
const NoValue int64 = math.MinInt64

// Rational is a time base or ratio such as 1/90000 or 30000/1001.
type Rational struct {
	Num int
	Den int
}

// Common time bases
var (
	Millisecond = Rational{1, 1000}
	Microsecond = Rational{1, 1000000}
	Nanosecond  = Rational{1, int(time.Second)}
	MPEG        = Rational{1, 90000}
)

// Valid reports whether r has a positive denominator and non-negative numerator.
func (r Rational) Valid() bool {
	return r.Den > 0 && r.Num >= 0
}

// IsZero reports whether r is the zero value.
func (r Rational) IsZero() bool {
	return r.Num == 0
}

// Float64 returns r as a float, 0 for an invalid denominator.
func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Invert swaps numerator and denominator.
func (r Rational) Invert() Rational {
	return Rational{Num: r.Den, Den: r.Num}
}

// Equal compares by value, so 1/2 equals 2/4.
func (r Rational) Equal(o Rational) bool {
	return int64(r.Num)*int64(o.Den) == int64(o.Num)*int64(r.Den)
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// ParseRational accepts "num/den", "num:den" or a plain integer.
func ParseRational(s string) (Rational, error) {
	s = strings.TrimSpace(s)
	sep := strings.IndexAny(s, "/:")
	if sep < 0 {
		n, err := strconv.Atoi(s)
		if err != nil {
			return Rational{}, errors.WrapInvalid(errors.ErrValueInvalid, "timestamp", "ParseRational",
				fmt.Sprintf("parse %q", s))
		}
		return Rational{Num: n, Den: 1}, nil
	}

	num, err1 := strconv.Atoi(strings.TrimSpace(s[:sep]))
	den, err2 := strconv.Atoi(strings.TrimSpace(s[sep+1:]))
	if err1 != nil || err2 != nil || den == 0 {
		return Rational{}, errors.WrapInvalid(errors.ErrValueInvalid, "timestamp", "ParseRational",
			fmt.Sprintf("parse %q", s))
	}
	return Rational{Num: num, Den: den}, nil
}

// Rescale converts v from time base from to time base to, rounding to the
// nearest tick with halves away from zero. NoValue passes through unchanged.
func Rescale(v int64, from, to Rational) int64 {
	if v == NoValue {
		return NoValue
	}
	if from == to {
		return v
	}

	// v * from.Num * to.Den / (from.Den * to.Num)
	num := new(big.Int).SetInt64(v)
	num.Mul(num, big.NewInt(int64(from.Num)))
	num.Mul(num, big.NewInt(int64(to.Den)))
	den := new(big.Int).Mul(big.NewInt(int64(from.Den)), big.NewInt(int64(to.Num)))
	if den.Sign() == 0 {
		return NoValue
	}
	if den.Sign() < 0 {
		den.Neg(den)
		num.Neg(num)
	}

	half := new(big.Int).Rsh(den, 1)
	if num.Sign() >= 0 {
		num.Add(num, half)
	} else {
		num.Sub(num, half)
	}
	num.Quo(num, den)

	if !num.IsInt64() {
		return NoValue
	}
	return num.Int64()
}

// ToDuration converts v ticks of tb to a time.Duration.
func ToDuration(v int64, tb Rational) time.Duration {
	if v == NoValue {
		return 0
	}
	return time.Duration(Rescale(v, tb, Nanosecond))
}

// FromDuration converts d to ticks of tb.
func FromDuration(d time.Duration, tb Rational) int64 {
	return Rescale(int64(d), Nanosecond, tb)
}
