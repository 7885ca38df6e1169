// Package rank implements fractional indexing over a base-36 alphabet.
//
// A Rank orders cards inside one pipeline stage by plain byte-wise string
// comparison. New keys are computed between two neighbors without touching
// any other key in the stage.
package rank

import (
	"errors"
	"fmt"
	"strings"
)

// Alphabet lists the digits in ascending order.
const Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// SeedLength is the length of the key handed to the first card of an empty stage.
const SeedLength = 3

const base = len(Alphabet)

var (
	// ErrInvalid is returned for keys that are empty, contain characters outside
	// the alphabet, or end with the minimum digit.
	ErrInvalid = errors.New("invalid rank")
	// ErrOrder is returned when before is not strictly less than after.
	ErrOrder = errors.New("rank bounds out of order")
)

// Rank is an opaque, lexicographically comparable position key.
type Rank string

// Parse validates raw as a Rank. A key may not end with '0': no key could be
// placed directly below it.
func Parse(raw string) (Rank, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalid)
	}
	for i := 0; i < len(raw); i++ {
		if digit(raw[i]) < 0 {
			return "", fmt.Errorf("%w: %q contains %q", ErrInvalid, raw, raw[i])
		}
	}
	if raw[len(raw)-1] == Alphabet[0] {
		return "", fmt.Errorf("%w: %q ends with %q", ErrInvalid, raw, Alphabet[0])
	}
	return Rank(raw), nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(raw string) Rank {
	r, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Rank) String() string { return string(r) }

// Less reports whether r sorts above o on the board.
func (r Rank) Less(o Rank) bool { return r < o }

// Seed returns the key used for the first card of an empty stage.
func Seed() Rank {
	return Rank(strings.Repeat(string(Alphabet[base/2]), SeedLength))
}

// Between returns a key k with before < k < after. A nil bound is open:
// (nil, nil) yields Seed, (nil, after) a key below after, (before, nil) a key
// above before.
func Between(before, after *Rank) (Rank, error) {
	if before == nil && after == nil {
		return Seed(), nil
	}

	var lo, hi string
	if before != nil {
		if _, err := Parse(string(*before)); err != nil {
			return "", err
		}
		lo = string(*before)
	}
	if after != nil {
		if _, err := Parse(string(*after)); err != nil {
			return "", err
		}
		hi = string(*after)
	}
	if before != nil && after != nil && lo >= hi {
		return "", fmt.Errorf("%w: %q >= %q", ErrOrder, lo, hi)
	}

	return Rank(midpoint(lo, hi)), nil
}

// midpoint returns a key strictly between lo and hi. lo == "" is the lowest
// possible bound and hi == "" the highest. Neither may end with the zero digit.
func midpoint(lo, hi string) string {
	if hi != "" {
		// Shared prefix, with lo padded by zeros.
		n := 0
		for n < len(hi) && digitAt(lo, n) == digit(hi[n]) {
			n++
		}
		if n > 0 {
			rest := ""
			if n < len(lo) {
				rest = lo[n:]
			}
			return hi[:n] + midpoint(rest, hi[n:])
		}
	}

	dLo := 0
	if lo != "" {
		dLo = digit(lo[0])
	}
	dHi := base
	if hi != "" {
		dHi = digit(hi[0])
	}

	if dHi-dLo > 1 {
		return string(Alphabet[(dLo+dHi+1)/2])
	}

	// Adjacent first digits.
	if len(hi) > 1 {
		return hi[:1]
	}
	rest := ""
	if len(lo) > 1 {
		rest = lo[1:]
	}
	return string(Alphabet[dLo]) + midpoint(rest, "")
}

// Spread returns n strictly increasing keys of equal, minimal length, spaced
// evenly across the key space. Used to rewrite a stage whose keys grew long.
func Spread(n int) []Rank {
	if n <= 0 {
		return nil
	}

	// Spacing of at least two leaves room to bump a key off a trailing zero.
	length, space := 1, uint64(base)
	for space < 2*uint64(n+1) {
		length++
		space *= uint64(base)
	}

	step := space / uint64(n+1)
	remainder := space % uint64(n+1)

	keys := make([]Rank, n)
	for i := 0; i < n; i++ {
		k := uint64(i + 1)
		value := k*step + (k*remainder)/uint64(n+1)
		if value%uint64(base) == 0 {
			value++
		}
		keys[i] = Rank(encode(value, length))
	}
	return keys
}

func encode(value uint64, length int) string {
	buf := make([]byte, length)
	for i := length - 1; i >= 0; i-- {
		buf[i] = Alphabet[value%uint64(base)]
		value /= uint64(base)
	}
	return string(buf)
}

func digit(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 10
	default:
		return -1
	}
}

func digitAt(s string, i int) int {
	if i < len(s) {
		return digit(s[i])
	}
	return 0
}
