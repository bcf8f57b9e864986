package validation

import "testing"

func TestIsValidVIN(t *testing.T) {
	tests := []struct {
		name  string
		vin   string
		valid bool
	}{
		{
			name:  "valid honda vin",
			vin:   "1HGCM82633A123456",
			valid: true,
		},
		{
			name:  "valid vin with letters",
			vin:   "WBA3B1C50DF461234",
			valid: true,
		},
		{
			name:  "too short",
			vin:   "1HGCM82633A12345",
			valid: false,
		},
		{
			name:  "too long",
			vin:   "1HGCM82633A1234567",
			valid: false,
		},
		{
			name:  "contains letter o",
			vin:   "1HGCM82633A12345O",
			valid: false,
		},
		{
			name:  "contains letter i",
			vin:   "IHGCM82633A123456",
			valid: false,
		},
		{
			name:  "contains letter q",
			vin:   "QHGCM82633A123456",
			valid: false,
		},
		{
			name:  "lowercase not accepted",
			vin:   "1hgcm82633a123456",
			valid: false,
		},
		{
			name:  "contains special characters",
			vin:   "1HGCM82633A12345-",
			valid: false,
		},
		{
			name:  "empty string",
			vin:   "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidVIN(tt.vin)
			if got != tt.valid {
				t.Fatalf("IsValidVIN(%q) = %v, want %v", tt.vin, got, tt.valid)
			}
		})
	}
}

func TestNormalizeVIN(t *testing.T) {
	got := NormalizeVIN("  1hgcm82633a123456 ")
	if got != "1HGCM82633A123456" {
		t.Fatalf("NormalizeVIN = %q, want %q", got, "1HGCM82633A123456")
	}
	if !IsValidVIN(got) {
		t.Fatalf("normalized VIN must be valid")
	}
}
