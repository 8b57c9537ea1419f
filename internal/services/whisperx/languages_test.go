package whisperx

import "testing"

func TestNormalizeLanguage(t *testing.T) {
	tests := map[string]string{
		"en":    "en",
		"EN":    "en",
		"en-US": "en",
		"zh":    "zh",
		" de ":  "de",
		"":      "",
		"??":    "",
	}
	for in, want := range tests {
		if got := NormalizeLanguage(in); got != want {
			t.Errorf("NormalizeLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSupportsAlignment(t *testing.T) {
	for _, code := range []string{"en", "fr", "ja", "uk", "en-GB"} {
		if !SupportsAlignment(code) {
			t.Errorf("expected %q to be supported", code)
		}
	}
	for _, code := range []string{"xx", "", "sw"} {
		if SupportsAlignment(code) {
			t.Errorf("expected %q to be unsupported", code)
		}
	}
}

func TestDisplayName(t *testing.T) {
	if got := DisplayName("de"); got != "German" {
		t.Fatalf("DisplayName(de) = %q", got)
	}
	if got := DisplayName("not a tag"); got != "not a tag" {
		t.Fatalf("expected fallback to input, got %q", got)
	}
}
