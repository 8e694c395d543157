package dailycode

import (
	"fmt"
	"strings"
)

// Letters excludes I and O, Digits excludes 0 and 1, so a code read aloud
// or copied by hand cannot be misread.
const (
	Letters = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	Digits  = "23456789"
)

const (
	numLetters = int64(len(Letters))
	numDigits  = int64(len(Digits))

	// digitPairs is the number of ordered pairs of distinct digits.
	digitPairs = numDigits * (numDigits - 1)

	// SpaceSize is the number of distinct codes: 24^3 * 8 * 7 = 774144.
	SpaceSize = numLetters * numLetters * numLetters * digitPairs

	// CodeLength is the fixed number of symbols in every code.
	CodeLength = 5
)

// Code is a rendered daily code such as "AAA23".
type Code string

func (c Code) String() string { return string(c) }

// Encode renders a sequence index as a code. Indices wrap modulo SpaceSize
// so every int64 maps to a code; equal indices modulo SpaceSize always
// render the same code.
func Encode(index int64) Code {
	n := index % SpaceSize
	if n < 0 {
		n += SpaceSize
	}

	l1 := n / (numLetters * numLetters * digitPairs)
	n %= numLetters * numLetters * digitPairs
	l2 := n / (numLetters * digitPairs)
	n %= numLetters * digitPairs
	l3 := n / digitPairs
	n %= digitPairs

	d1 := n / (numDigits - 1)
	d2 := n % (numDigits - 1)
	// Skip the ordinal already taken by the first digit.
	if d2 >= d1 {
		d2++
	}

	buf := [CodeLength]byte{
		Letters[l1], Letters[l2], Letters[l3],
		Digits[d1], Digits[d2],
	}
	return Code(buf[:])
}

// Decode returns the index in [0, SpaceSize) that Encode maps to code.
func Decode(code Code) (int64, error) {
	s := strings.ToUpper(string(code))
	if len(s) != CodeLength {
		return 0, fmt.Errorf("%w: expected %d symbols, got %d", ErrInvalidCode, CodeLength, len(s))
	}

	var letters [3]int64
	for i := 0; i < 3; i++ {
		pos := strings.IndexByte(Letters, s[i])
		if pos < 0 {
			return 0, fmt.Errorf("%w: %q is not a code letter", ErrInvalidCode, s[i])
		}
		letters[i] = int64(pos)
	}

	d1 := int64(strings.IndexByte(Digits, s[3]))
	d2 := int64(strings.IndexByte(Digits, s[4]))
	if d1 < 0 || d2 < 0 {
		return 0, fmt.Errorf("%w: %q is not a code digit pair", ErrInvalidCode, s[3:])
	}
	if d1 == d2 {
		return 0, fmt.Errorf("%w: digits must differ", ErrInvalidCode)
	}
	if d2 > d1 {
		d2--
	}

	idx := letters[0]
	idx = idx*numLetters + letters[1]
	idx = idx*numLetters + letters[2]
	idx = idx*digitPairs + d1*(numDigits-1) + d2
	return idx, nil
}
