package env

import "testing"

func TestGetTrimsAndFallsBack(t *testing.T) {
	t.Setenv("MEDCART_TEST_VALUE", "  hello ")
	if got := Get("MEDCART_TEST_VALUE", "x"); got != "hello" {
		t.Fatalf("expected trimmed value, got %q", got)
	}
	t.Setenv("MEDCART_TEST_VALUE", "   ")
	if got := Get("MEDCART_TEST_VALUE", "x"); got != "x" {
		t.Fatalf("expected fallback for blank, got %q", got)
	}
	if got := Get("MEDCART_TEST_UNSET", "y"); got != "y" {
		t.Fatalf("expected fallback for unset, got %q", got)
	}
}

func TestIs(t *testing.T) {
	t.Setenv("LOG_FORMAT", "Console")
	if !Is("LOG_FORMAT", "console") {
		t.Fatal("expected case-insensitive match")
	}
	if Is("LOG_FORMAT", "json") {
		t.Fatal("unexpected match")
	}
}
