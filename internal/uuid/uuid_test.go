// Package uuid tests for UUID v4 generation and validation.
package uuid

import "testing"

// TestNew verifies generated UUIDs are valid v4.
func TestNew(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New()
		if !IsValid(id) {
			t.Fatalf("New() produced invalid UUID: %s", id)
		}
		if seen[id] {
			t.Fatalf("New() produced duplicate UUID: %s", id)
		}
		seen[id] = true
	}
}

// TestIsValid verifies format checking.
func TestIsValid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"valid v4", "6ba7b811-9dad-41d1-8b4d-00c04fd430c8", true},
		{"empty", "", false},
		{"no dashes", "6ba7b8119dad41d18b4d00c04fd430c8", false},
		{"wrong version", "6ba7b811-9dad-11d1-8b4d-00c04fd430c8", false},
		{"wrong variant", "6ba7b811-9dad-41d1-1b4d-00c04fd430c8", false},
		{"too short", "6ba7b811-9dad-41d1-8b4d", false},
		{"garbage", "not-a-uuid", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.input); got != tt.want {
				t.Errorf("IsValid(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// TestValidate verifies error reporting.
func TestValidate(t *testing.T) {
	if err := Validate(New()); err != nil {
		t.Errorf("Validate of fresh UUID failed: %v", err)
	}
	if err := Validate("bogus"); err == nil {
		t.Error("Validate should reject a bogus string")
	}
}
