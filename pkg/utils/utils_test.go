package utils

import "testing"

func TestAlignTo(t *testing.T) {
	tests := []struct {
		val, align, want uint64
	}{
		{0, 8, 0},
		{1, 8, 8},
		{8, 8, 8},
		{9, 4, 12},
		{7, 0, 7},
		{0x1001, 0x1000, 0x2000},
	}
	for _, tt := range tests {
		if got := AlignTo(tt.val, tt.align); got != tt.want {
			t.Errorf("AlignTo(0x%x, 0x%x) = 0x%x, want 0x%x", tt.val, tt.align, got, tt.want)
		}
	}
}

func TestPowerOf2Ceil(t *testing.T) {
	tests := []struct {
		val, want uint64
	}{
		{0, 1},
		{1, 1},
		{2, 2},
		{3, 4},
		{0x801, 0x1000},
		{1 << 40, 1 << 40},
	}
	for _, tt := range tests {
		if got := PowerOf2Ceil(tt.val); got != tt.want {
			t.Errorf("PowerOf2Ceil(0x%x) = 0x%x, want 0x%x", tt.val, got, tt.want)
		}
	}
}

func TestExtractBits(t *testing.T) {
	if got := ExtractBits(0xdeadbeef, 15, 8); got != 0xbe {
		t.Errorf("got 0x%x, want 0xbe", got)
	}
	if got := ExtractBits(0x80000000, 31, 31); got != 1 {
		t.Errorf("got %d, want 1", got)
	}
	if got := ExtractBits(^uint64(0), 63, 0); got != ^uint64(0) {
		t.Errorf("full width extract lost bits: 0x%x", got)
	}
}

func TestSignExtend(t *testing.T) {
	tests := []struct {
		val  uint64
		size uint
		want int64
	}{
		{0x7ff, 12, 0x7ff},
		{0x800, 12, -0x800},
		{0xfff, 12, -1},
		{0x80000, 20, -0x80000},
		{0x1234, 64, 0x1234},
	}
	for _, tt := range tests {
		if got := SignExtend(tt.val, tt.size); got != tt.want {
			t.Errorf("SignExtend(0x%x, %d) = %d, want %d", tt.val, tt.size, got, tt.want)
		}
	}
}

func TestIsInt(t *testing.T) {
	tests := []struct {
		val  int64
		n    uint
		want bool
	}{
		{2047, 12, true},
		{2048, 12, false},
		{-2048, 12, true},
		{-2049, 12, false},
		{1<<20 - 2, 21, true},
		{1 << 20, 21, false},
	}
	for _, tt := range tests {
		if got := IsInt(tt.val, tt.n); got != tt.want {
			t.Errorf("IsInt(%d, %d) = %v", tt.val, tt.n, got)
		}
	}
}

func TestIsUInt(t *testing.T) {
	if !IsUInt(0xff, 8) || IsUInt(0x100, 8) {
		t.Error("8-bit bounds")
	}
	if !IsUInt(^uint64(0), 64) {
		t.Error("every value fits in 64 bits")
	}
}

func TestReadSlice(t *testing.T) {
	type pair struct {
		A uint16
		B uint16
	}
	data := []byte{1, 0, 2, 0, 3, 0, 4, 0, 0xff}
	got := ReadSlice[pair](data, 4)
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0] != (pair{1, 2}) || got[1] != (pair{3, 4}) {
		t.Errorf("got %+v", got)
	}
}
