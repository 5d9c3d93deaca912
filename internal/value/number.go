package value

import (
	"errors"
	"math"
)

var (
	ErrIntOverflow          = errors.New("integer overflow")
	ErrIntUnderflow         = errors.New("integer underflow")
	ErrNegationWithOverflow = errors.New("integer negation with overflow")
	ErrIntDivisionByZero    = errors.New("integer division by zero")
)

// IntAdd adds l and r in a safe way:
// - if there is an overflow the error is ErrIntOverflow.
// - if there is an underflow the error is ErrIntUnderflow.
func IntAdd(l, r int64) (int64, error) {
	if r > 0 {
		if l > math.MaxInt64-r {
			return 0, ErrIntOverflow
		}
	} else {
		if l < math.MinInt64-r {
			return 0, ErrIntUnderflow
		}
	}
	return l + r, nil
}

// IntSub substracts r from l in a safe way:
// - if there is an overflow the error is ErrIntOverflow.
// - if there is an underflow the error is ErrIntUnderflow.
func IntSub(l, r int64) (int64, error) {
	if r < 0 {
		if l > math.MaxInt64+r {
			return 0, ErrIntOverflow
		}
	} else {
		if l < math.MinInt64+r {
			return 0, ErrIntUnderflow
		}
	}
	return l - r, nil
}

// IntMul multiplies l and r in a safe way, see IntAdd.
func IntMul(l, r int64) (int64, error) {
	if r > 0 {
		if l > math.MaxInt64/r || l < math.MinInt64/r {
			return 0, ErrIntOverflow
		}
	} else if r < 0 {
		if r == -1 {
			if l == math.MinInt64 {
				return 0, ErrIntOverflow
			}
		} else if l < math.MaxInt64/r || l > math.MinInt64/r {
			return 0, ErrIntUnderflow
		}
	}
	return l * r, nil
}

// IntDiv divides l by r. Exact quotients are returned as ints, other quotients as floats.
// If r is equal to zero the error is ErrIntDivisionByZero.
func IntDiv(l, r int64) (Value, error) {
	if r == 0 {
		return Value{}, ErrIntDivisionByZero
	}
	if l == math.MinInt64 && r == -1 {
		return Value{}, ErrIntOverflow
	}
	if l%r == 0 {
		return Int(l / r), nil
	}
	return Float(float64(l) / float64(r)), nil
}

// IntMod returns the remainder of l divided by r, its sign is the sign of r.
func IntMod(l, r int64) (int64, error) {
	if r == 0 {
		return 0, ErrIntDivisionByZero
	}
	if r == -1 {
		return 0, nil
	}
	m := l % r
	if m != 0 && (m < 0) != (r < 0) {
		m += r
	}
	return m, nil
}

func IntNeg(i int64) (int64, error) {
	if i == math.MinInt64 {
		return 0, ErrNegationWithOverflow
	}
	return -i, nil
}
