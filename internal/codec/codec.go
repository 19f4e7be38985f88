// Package codec converts identity tokens to and from sequences of
// invisible code points. The mapping is a deterministic bijection: the
// token's canonical 36-character UUID form is read as 288 bits, cut into
// 96 consecutive 3-bit groups, and each group selects one symbol of the
// 8-symbol invisible alphabet.
package codec

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Alphabet is the fixed invisible alphabet. All eight code points render
// as nothing in ordinary text but survive character-preserving copy/paste.
var Alphabet = [8]rune{
	'​', // zero-width space
	'‌', // zero-width non-joiner
	'‍', // zero-width joiner
	'⁠', // word joiner
	'⁡', // function application
	'⁢', // invisible times
	'⁣', // invisible separator
	'⁤', // invisible plus
}

// SequenceLength is the symbol count of every encoded token:
// 36 characters * 8 bits = 288 bits = 96 groups of 3 bits.
const SequenceLength = 96

var symbolValues = func() map[rune]byte {
	m := make(map[rune]byte, len(Alphabet))
	for i, r := range Alphabet {
		m[r] = byte(i)
	}
	return m
}()

// IsSymbol reports whether r belongs to the invisible alphabet.
func IsSymbol(r rune) bool {
	_, ok := symbolValues[r]
	return ok
}

// MalformedError reports a symbol sequence that Decode cannot invert.
type MalformedError struct {
	Reason string
	Err    error
}

func (e *MalformedError) Error() string { return "malformed fingerprint: " + e.Reason }
func (e *MalformedError) Unwrap() error { return e.Err }

// Encode renders token as exactly SequenceLength invisible symbols.
// The same token always yields the same sequence.
func Encode(token uuid.UUID) string {
	text := token.String()
	var b strings.Builder
	b.Grow(SequenceLength * 3) // every alphabet rune is 3 bytes in UTF-8
	for i := 0; i < len(text)*8; i += 3 {
		var v byte
		for j := i; j < i+3; j++ {
			v <<= 1
			v |= text[j/8] >> (7 - j%8) & 1
		}
		b.WriteRune(Alphabet[v])
	}
	return b.String()
}

// Decode is the exact inverse of Encode. It fails with a *MalformedError
// when seq is not SequenceLength symbols long, contains a rune outside the
// alphabet, or does not decode to a canonical UUID.
func Decode(seq string) (uuid.UUID, error) {
	runes := []rune(seq)
	if len(runes) != SequenceLength {
		return uuid.Nil, &MalformedError{
			Reason: fmt.Sprintf("sequence is %d symbols, want %d", len(runes), SequenceLength),
		}
	}
	raw := make([]byte, SequenceLength*3/8)
	for i, r := range runes {
		v, ok := symbolValues[r]
		if !ok {
			return uuid.Nil, &MalformedError{
				Reason: fmt.Sprintf("symbol %d (%U) is outside the invisible alphabet", i, r),
			}
		}
		for j := 0; j < 3; j++ {
			if v>>(2-j)&1 == 1 {
				bit := i*3 + j
				raw[bit/8] |= 1 << (7 - bit%8)
			}
		}
	}
	token, err := uuid.Parse(string(raw))
	if err != nil {
		return uuid.Nil, &MalformedError{Reason: "decoded text is not a canonical UUID", Err: err}
	}
	return token, nil
}
