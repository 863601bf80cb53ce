package value

import "math/big"

// bitWidth returns the declared width in bits of an integer Kind.
//
// U128/U256 are backed by math/big.Int rather than a fixed-word type:
// the retrieved example pack carries no third-party fixed-width unsigned
// integer library, and the closest grounded precedent (vybium-starks-vm's
// core/field.go) wraps arbitrary-precision values in *big.Int with an
// explicit bound check after every operation. That is the pattern
// followed here: every arithmetic result is range-checked against
// bitWidth before it is accepted, so the choice of backing store never
// changes observable overflow behavior.
func bitWidth(k Kind) int {
	switch k {
	case KindU8:
		return 8
	case KindU16:
		return 16
	case KindU32:
		return 32
	case KindU64:
		return 64
	case KindU128:
		return 128
	case KindU256:
		return 256
	default:
		return 0
	}
}

// maskTo truncates b to the low `bits` bits, the behavior a narrowing
// CastTo requires (lossy by design, unlike checked arithmetic).
func maskTo(b *big.Int, bits int) *big.Int {
	mask := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	mask.Sub(mask, big.NewInt(1))
	return new(big.Int).And(b, mask)
}

func maxOf(bits int) *big.Int {
	m := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	return m.Sub(m, big.NewInt(1))
}
