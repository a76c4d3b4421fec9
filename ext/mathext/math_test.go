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

package mathext

import (
	"testing"
)

func TestMinMax(t *testing.T) {
	tests := []struct {
		x, y, min, max int
	}{
		{0, 0, 0, 0},
		{-1, 1, -1, 1},
		{1, -1, -1, 1},
		{5, 3, 3, 5},
	}
	for i, tt := range tests {
		if min := MinInt(tt.x, tt.y); min != tt.min {
			t.Errorf("test %d: min mismatch: have %v, want %v.", i, min, tt.min)
		}
		if max := MaxInt(tt.x, tt.y); max != tt.max {
			t.Errorf("test %d: max mismatch: have %v, want %v.", i, max, tt.max)
		}
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		x, lo, hi, out int
	}{
		{5, 0, 10, 5},
		{-5, 0, 10, 0},
		{15, 0, 10, 10},
	}
	for i, tt := range tests {
		if out := ClampInt(tt.x, tt.lo, tt.hi); out != tt.out {
			t.Errorf("test %d: clamp mismatch: have %v, want %v.", i, out, tt.out)
		}
	}
}
