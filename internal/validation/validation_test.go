package validation

import "testing"

func TestIsValidCurrency(t *testing.T) {
	valid := []string{"USD", "EUR", "GBP", "AUD"}
	for _, code := range valid {
		if !IsValidCurrency(code) {
			t.Errorf("IsValidCurrency(%q) = false, want true", code)
		}
	}

	invalid := []string{"", "usd", "US", "USDT", "U$D", "123"}
	for _, code := range invalid {
		if IsValidCurrency(code) {
			t.Errorf("IsValidCurrency(%q) = true, want false", code)
		}
	}
}

func TestIsValidAmount(t *testing.T) {
	if !IsValidAmount(1) {
		t.Error("IsValidAmount(1) = false, want true")
	}
	if IsValidAmount(0) {
		t.Error("IsValidAmount(0) = true, want false")
	}
	if IsValidAmount(-500) {
		t.Error("IsValidAmount(-500) = true, want false")
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hello  ", 100); got != "hello" {
		t.Errorf("SanitizeString trim = %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Errorf("SanitizeString cap = %q", got)
	}
	if got := SanitizeString("a\x00b", 100); got != "ab" {
		t.Errorf("SanitizeString null strip = %q", got)
	}
}
