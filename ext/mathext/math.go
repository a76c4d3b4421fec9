// Overmesh - decentralized key-based routing
// Copyright 2026 The Overmesh Authors. All rights reserved.
//
// Overmesh is free software: you can redistribute it and/or modify it under
// the terms of the GNU General Public License as published by the Free
// Software Foundation, either version 3 of the License, or (at your option)
// any later version.
//
// Overmesh is distributed in the hope that it will be useful, but WITHOUT ANY
// WARRANTY; without even the implied warranty of MERCHANTABILITY or FITNESS
// FOR A PARTICULAR PURPOSE. See the GNU General Public License for more
// details.

// Package mathext contains the integer helpers missing from the standard
// math package, which only covers floats.
package mathext

// Returns the larger of x or y.
func MaxInt(x, y int) int {
	if x > y {
		return x
	}
	return y
}

// Returns the smaller of x or y.
func MinInt(x, y int) int {
	if x < y {
		return x
	}
	return y
}

// Clamps x into the closed interval [lo, hi].
func ClampInt(x, lo, hi int) int {
	return MaxInt(lo, MinInt(hi, x))
}
