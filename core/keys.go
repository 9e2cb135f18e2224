// Package core defines the shared identifier types used by all smoother packages.
package core

import (
	"fmt"
	"strconv"
)

// Key is the opaque, unique identifier of one variable in the estimation
// problem. Keys never change over the lifetime of a smoother, unlike the
// elimination indices assigned to variables by an Ordering.
type Key uint64

const indexMask = (uint64(1) << 56) - 1

// Symbol builds a Key from a single-character type tag and a per-type index,
// e.g. Symbol('x', 3) for the third pose or Symbol('l', 0) for the first
// landmark. The tag occupies the top byte of the key.
func Symbol(c byte, j uint64) Key {
	return Key(uint64(c)<<56 | j&indexMask)
}

// Chr returns the type tag of a symbol-built key, or 0 for plain keys.
func (k Key) Chr() byte { return byte(uint64(k) >> 56) }

// Index returns the per-type index of a symbol-built key.
func (k Key) Index() uint64 { return uint64(k) & indexMask }

// String renders symbol-built keys as "x3" and plain keys as their number.
func (k Key) String() string {
	c := k.Chr()
	if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
		return fmt.Sprintf("%c%d", c, k.Index())
	}
	return strconv.FormatUint(uint64(k), 10)
}
