package version

import (
	"testing"
)

func TestParseValid(t *testing.T) {
	tests := []struct {
		input string
		major uint16
		minor uint16
	}{
		{"1.0", 1, 0},
		{"1.1", 1, 1},
		{"2.0", 2, 0},
		{"10.23", 10, 23},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tt.input, err)
			}
			if v.Major != tt.major || v.Minor != tt.minor {
				t.Errorf("Parse(%q) = %d.%d, want %d.%d", tt.input, v.Major, v.Minor, tt.major, tt.minor)
			}
			if v.String() != tt.input {
				t.Errorf("String() = %q, want %q", v.String(), tt.input)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, input := range []string{"", "1", "abc", "1.0.0", ".1", "1.", "-1.0", "70000.0"} {
		t.Run(input, func(t *testing.T) {
			if _, err := Parse(input); err == nil {
				t.Errorf("Parse(%q) should fail", input)
			}
		})
	}
}

func TestSupported(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"", true},
		{"1.0", true},
		{"1.7", true},
		{"2.0", false},
		{"0.9", false},
		{"garbage", false},
	}

	for _, tt := range tests {
		if got := Supported(tt.input); got != tt.want {
			t.Errorf("Supported(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestMustParsePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustParse should panic on bad input")
		}
	}()
	MustParse("x")
}
