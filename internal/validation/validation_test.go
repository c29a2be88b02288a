package validation

import (
	"errors"
	"testing"
)

// TestValidateMonth verifies the 1..12 boundary.
func TestValidateMonth(t *testing.T) {
	tests := []struct {
		month   int
		wantErr bool
	}{
		{0, true},
		{1, false},
		{7, false},
		{12, false},
		{13, true},
		{-3, true},
	}
	for _, tc := range tests {
		err := ValidateMonth(tc.month)
		if (err != nil) != tc.wantErr {
			t.Errorf("ValidateMonth(%d) error = %v, wantErr %v", tc.month, err, tc.wantErr)
		}
		if tc.wantErr && !errors.Is(err, ErrInvalidMonth) {
			t.Errorf("ValidateMonth(%d) = %v, want ErrInvalidMonth", tc.month, err)
		}
	}
}

// TestValidateRegionID verifies trimming and character restrictions.
func TestValidateRegionID(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{"valid id", "vn-da-nang", "vn-da-nang", nil},
		{"trimmed", "  at-innsbruck ", "at-innsbruck", nil},
		{"empty", "   ", "", ErrRegionIDEmpty},
		{"uppercase rejected", "VN-Da-Nang", "", ErrRegionIDInvalidChars},
		{"path traversal rejected", "../etc/passwd", "", ErrRegionIDInvalidChars},
		{"underscore allowed", "us_west-2", "us_west-2", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateRegionID(tc.in)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("ValidateRegionID(%q) error = %v, want %v", tc.in, err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateRegionID(%q) unexpected error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("ValidateRegionID(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
