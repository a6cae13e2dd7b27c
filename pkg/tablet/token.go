// Copyright 2024 The TabletDB Authors
// SPDX-License-Identifier: Apache-2.0

package tablet

import "math"

// Token is a point on the table's token ring. The ring is a totally
// ordered, wrap-free space: MinToken and MaxToken bound it from below
// and above.
type Token int64

const (
	// MinToken is the smallest token that can own data. math.MinInt64
	// itself is reserved as a sentinel below every key token.
	MinToken Token = math.MinInt64 + 1
	// MaxToken is the largest token in the ring.
	MaxToken Token = math.MaxInt64
)

// signBit maps the signed token space onto an unsigned, order-preserving
// coordinate so that tablet boundaries become plain bit prefixes.
const signBit = uint64(1) << 63

func tokenToUnsigned(t Token) uint64 {
	return uint64(t) ^ signBit
}

func tokenFromUnsigned(u uint64) Token {
	return Token(int64(u ^ signBit))
}

// Next returns the immediately following token. Calling Next on
// MaxToken is a programming error; the result wraps and must not be
// used for routing.
func (t Token) Next() Token {
	return t + 1
}

// TokenRange is an inclusive range [First, Last] of tokens. Tablet
// ranges are contiguous: a tablet's First is the predecessor tablet's
// Last plus one, except for the first tablet whose First is MinToken.
type TokenRange struct {
	First Token
	Last  Token
}

// Contains returns whether t falls within the range.
func (r TokenRange) Contains(t Token) bool {
	return t >= r.First && t <= r.Last
}

// Intersect returns the overlap of two ranges and whether it is
// non-empty.
func (r TokenRange) Intersect(other TokenRange) (TokenRange, bool) {
	out := TokenRange{First: maxToken(r.First, other.First), Last: minToken(r.Last, other.Last)}
	if out.First > out.Last {
		return TokenRange{}, false
	}
	return out, true
}

// RangeSide distinguishes the two halves of a tablet's token range. A
// descendant tablet produced by a split maps back to one side of its
// parent, which lets storage split its on-disk groups incrementally.
type RangeSide int8

const (
	// SideLeft is the lower half of a tablet's range.
	SideLeft RangeSide = iota
	// SideRight is the upper half.
	SideRight
)

func (s RangeSide) String() string {
	if s == SideLeft {
		return "left"
	}
	return "right"
}

func minToken(a, b Token) Token {
	if a < b {
		return a
	}
	return b
}

func maxToken(a, b Token) Token {
	if a > b {
		return a
	}
	return b
}
