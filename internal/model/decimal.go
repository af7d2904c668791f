package model

import (
	"fmt"
	"math/big"
	"strings"
)

// Decimal is an exact fixed-point money amount. No example in the retrieval
// pack carries a decimal library (every Rinha entry uses float64 and accepts
// the resulting rounding error), so this is one of the few places this
// module reaches for the standard library over a third-party dependency:
// math/big.Rat is the stdlib primitive for exact rational arithmetic and
// keeps the "no float coercion" invariant (spec §3) without inventing a
// currency library the corpus never reaches for either.
type Decimal struct {
	rat *big.Rat
}

// ZeroDecimal is the additive identity.
func ZeroDecimal() Decimal {
	return Decimal{rat: new(big.Rat)}
}

// ParseDecimal parses a decimal literal such as "19.90" or "100".
func ParseDecimal(s string) (Decimal, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok {
		return Decimal{}, fmt.Errorf("model: invalid decimal amount %q", s)
	}
	return Decimal{rat: r}, nil
}

// Add returns d + other, exactly.
func (d Decimal) Add(other Decimal) Decimal {
	base := d.ratOrZero()
	return Decimal{rat: new(big.Rat).Add(base, other.ratOrZero())}
}

// IsPositive reports whether the amount is strictly greater than zero.
func (d Decimal) IsPositive() bool {
	return d.ratOrZero().Sign() > 0
}

func (d Decimal) ratOrZero() *big.Rat {
	if d.rat == nil {
		return new(big.Rat)
	}
	return d.rat
}

// String renders the amount with two decimal places, the precision every
// upstream processor and the ledger agree on.
func (d Decimal) String() string {
	return d.ratOrZero().FloatString(2)
}

// MarshalJSON emits the amount as a bare JSON number, matching spec §6's
// `"amount": decimal` wire shape.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalJSON accepts a bare JSON number or a quoted decimal string,
// parsing the literal text directly instead of round-tripping through
// float64.
func (d *Decimal) UnmarshalJSON(data []byte) error {
	text := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if text == "" || text == "null" {
		*d = ZeroDecimal()
		return nil
	}
	parsed, err := ParseDecimal(text)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
