// Package fixedpoint implements the deterministic 18-decimal fixed-point
// arithmetic used throughout the lending core. Values are unsigned 256-bit
// integers scaled by 1e18 ("wad"). Every operation reports range violations
// explicitly instead of wrapping, and callers pick the rounding direction per
// call site via the Down/Up variants.
package fixedpoint

import (
	"errors"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// Decimals is the number of fractional decimal digits carried by a Value.
const Decimals = 18

// BpsDenominator is the basis-point scale used by percentage operations.
const BpsDenominator = 10_000

var (
	ErrOverflow       = errors.New("fixedpoint: overflow")
	ErrUnderflow      = errors.New("fixedpoint: underflow")
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
	ErrInvalidValue   = errors.New("fixedpoint: invalid value")
)

var (
	wad    = uint256.NewInt(1_000_000_000_000_000_000)
	bpsDen = uint256.NewInt(BpsDenominator)
)

// Value is a non-negative wad-scaled fixed-point number.
type Value struct {
	n uint256.Int
}

// Zero returns the zero value.
func Zero() Value { return Value{} }

// One returns 1.0.
func One() Value {
	var v Value
	v.n.Set(wad)
	return v
}

// FromUint64 converts a whole number of units into a Value. The product
// units*1e18 always fits in 256 bits, so the conversion cannot fail.
func FromUint64(units uint64) Value {
	var v Value
	v.n.Mul(uint256.NewInt(units), wad)
	return v
}

// FromTokens converts a raw token amount into a Value. Identical scaling to
// FromUint64; the separate name keeps call sites that deal in token units
// readable.
func FromTokens(amount uint64) Value { return FromUint64(amount) }

// FromBps converts a basis-point fraction into a Value, e.g. 8000 -> 0.8.
func FromBps(bps uint64) Value {
	var v Value
	v.n.Mul(uint256.NewInt(bps), wad)
	v.n.Div(&v.n, bpsDen)
	return v
}

// FromRaw wraps an already wad-scaled integer.
func FromRaw(raw *uint256.Int) Value {
	var v Value
	if raw != nil {
		v.n.Set(raw)
	}
	return v
}

// Raw returns a copy of the underlying wad-scaled integer.
func (v Value) Raw() *uint256.Int {
	return new(uint256.Int).Set(&v.n)
}

// RawString renders the underlying wad-scaled integer in decimal. Used by the
// persistence layer; ParseRaw is its inverse.
func (v Value) RawString() string { return v.n.Dec() }

// ParseRaw parses a decimal string produced by RawString.
func ParseRaw(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Value{}, ErrInvalidValue
	}
	b, ok := new(big.Int).SetString(s, 10)
	if !ok || b.Sign() < 0 {
		return Value{}, ErrInvalidValue
	}
	n, overflow := uint256.FromBig(b)
	if overflow {
		return Value{}, ErrOverflow
	}
	var v Value
	v.n.Set(n)
	return v, nil
}

// IsZero reports whether the value is exactly zero.
func (v Value) IsZero() bool { return v.n.IsZero() }

// Cmp compares v and o, returning -1, 0 or +1.
func (v Value) Cmp(o Value) int { return v.n.Cmp(&o.n) }

// Add returns v+o or ErrOverflow.
func (v Value) Add(o Value) (Value, error) {
	var out Value
	if _, carry := out.n.AddOverflow(&v.n, &o.n); carry {
		return Value{}, ErrOverflow
	}
	return out, nil
}

// Sub returns v-o or ErrUnderflow when the result would be negative.
func (v Value) Sub(o Value) (Value, error) {
	var out Value
	if _, borrow := out.n.SubOverflow(&v.n, &o.n); borrow {
		return Value{}, ErrUnderflow
	}
	return out, nil
}

// MulDown returns v*o rounded toward zero.
func (v Value) MulDown(o Value) (Value, error) {
	var out Value
	if _, overflow := out.n.MulDivOverflow(&v.n, &o.n, wad); overflow {
		return Value{}, ErrOverflow
	}
	return out, nil
}

// MulUp returns v*o rounded away from zero.
func (v Value) MulUp(o Value) (Value, error) {
	out, err := v.MulDown(o)
	if err != nil {
		return Value{}, err
	}
	var rem uint256.Int
	rem.MulMod(&v.n, &o.n, wad)
	if rem.IsZero() {
		return out, nil
	}
	return out.addOne()
}

// DivDown returns v/o rounded toward zero, or ErrDivisionByZero.
func (v Value) DivDown(o Value) (Value, error) {
	if o.n.IsZero() {
		return Value{}, ErrDivisionByZero
	}
	var out Value
	if _, overflow := out.n.MulDivOverflow(&v.n, wad, &o.n); overflow {
		return Value{}, ErrOverflow
	}
	return out, nil
}

// DivUp returns v/o rounded away from zero, or ErrDivisionByZero.
func (v Value) DivUp(o Value) (Value, error) {
	out, err := v.DivDown(o)
	if err != nil {
		return Value{}, err
	}
	var rem uint256.Int
	rem.MulMod(&v.n, wad, &o.n)
	if rem.IsZero() {
		return out, nil
	}
	return out.addOne()
}

// PercentageDown returns bps/10_000 of v, rounded toward zero.
func (v Value) PercentageDown(bps uint64) (Value, error) {
	var out Value
	if _, overflow := out.n.MulDivOverflow(&v.n, uint256.NewInt(bps), bpsDen); overflow {
		return Value{}, ErrOverflow
	}
	return out, nil
}

// PercentageUp returns bps/10_000 of v, rounded away from zero.
func (v Value) PercentageUp(bps uint64) (Value, error) {
	out, err := v.PercentageDown(bps)
	if err != nil {
		return Value{}, err
	}
	var rem uint256.Int
	rem.MulMod(&v.n, uint256.NewInt(bps), bpsDen)
	if rem.IsZero() {
		return out, nil
	}
	return out.addOne()
}

// TokensFloor converts the value back to a raw token amount, rounding down.
// Fails with ErrOverflow when the integer part exceeds uint64 range.
func (v Value) TokensFloor() (uint64, error) {
	var out uint256.Int
	out.Div(&v.n, wad)
	if !out.IsUint64() {
		return 0, ErrOverflow
	}
	return out.Uint64(), nil
}

// TokensCeil converts the value back to a raw token amount, rounding up.
func (v Value) TokensCeil() (uint64, error) {
	var quo, rem uint256.Int
	quo.DivMod(&v.n, wad, &rem)
	if !rem.IsZero() {
		var one uint256.Int
		one.SetOne()
		if _, carry := quo.AddOverflow(&quo, &one); carry {
			return 0, ErrOverflow
		}
	}
	if !quo.IsUint64() {
		return 0, ErrOverflow
	}
	return quo.Uint64(), nil
}

// String renders the value as a decimal number with the fractional part
// trimmed of trailing zeros.
func (v Value) String() string {
	var quo, rem uint256.Int
	quo.DivMod(&v.n, wad, &rem)
	if rem.IsZero() {
		return quo.Dec()
	}
	frac := rem.Dec()
	for len(frac) < Decimals {
		frac = "0" + frac
	}
	frac = strings.TrimRight(frac, "0")
	return quo.Dec() + "." + frac
}

func (v Value) addOne() (Value, error) {
	var one uint256.Int
	one.SetOne()
	var out Value
	if _, carry := out.n.AddOverflow(&v.n, &one); carry {
		return Value{}, ErrOverflow
	}
	return out, nil
}
