package utils

import (
	"testing"
)

// ============================================================================
// CONVERSION
// ============================================================================

func TestB2s(t *testing.T) {
	tests := []struct {
		in   []byte
		want string
	}{
		{nil, ""},
		{[]byte{}, ""},
		{[]byte("1.25"), "1.25"},
	}
	for _, tt := range tests {
		if got := B2s(tt.in); got != tt.want {
			t.Errorf("B2s(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestB2sZeroAllocation(t *testing.T) {
	b := []byte("0.731")
	allocs := testing.AllocsPerRun(100, func() {
		_ = B2s(b)
	})
	if allocs > 0 {
		t.Errorf("B2s allocated: %f allocs/op", allocs)
	}
}

// ============================================================================
// LINE SCANNERS
// ============================================================================

func TestTrimASCII(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"crlf", "1.5\r\n", "1.5"},
		{"padded", "  \t0.25 ", "0.25"},
		{"only_space", " \r\n", ""},
		{"inner_space_kept", "1, 2", "1, 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(TrimASCII([]byte(tt.in))); got != tt.want {
				t.Errorf("TrimASCII(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCutByte(t *testing.T) {
	tests := []struct {
		in            string
		before, after string
		found         bool
	}{
		{"0.5,1.25", "0.5", "1.25", true},
		{"1.25", "1.25", "", false},
		{",3", "", "3", true},
		{"3,", "3", "", true},
	}
	for _, tt := range tests {
		before, after, found := CutByte([]byte(tt.in), ',')
		if string(before) != tt.before || string(after) != tt.after || found != tt.found {
			t.Errorf("CutByte(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.in, before, after, found, tt.before, tt.after, tt.found)
		}
	}
}
