package uuid

import "testing"

func TestNewIsValid(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New()
		if !IsValid(id) {
			t.Fatalf("Generated UUID should be valid v4: %s", id)
		}
		if seen[id] {
			t.Fatalf("Duplicate UUID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestIsValid(t *testing.T) {
	if !IsValid("f47ac10b-58cc-4372-a567-0e02b2c3d479") {
		t.Error("Well-formed v4 UUID should be valid")
	}
	invalid := []string{
		"",
		"not-a-uuid",
		"f47ac10b-58cc-1372-a567-0e02b2c3d479", // wrong version
		"f47ac10b-58cc-4372-c567-0e02b2c3d479", // wrong variant
		"f47ac10b58cc4372a5670e02b2c3d479",     // no dashes
	}
	for _, s := range invalid {
		if IsValid(s) {
			t.Errorf("%q should be invalid", s)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(New()); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := Validate("garbage"); err == nil {
		t.Error("Expected error for malformed UUID")
	}
}
