package hosting

import "testing"

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"plain ascii", `{"id":"home","title":"Home"}`},
		{"empty", ""},
		{"accented latin", "café naïve résumé"},
		{"emoji", "launch 🚀 done ✅"},
		{"japanese", "こんにちは世界"},
		{"cyrillic", "привет мир"},
		{"mixed", `{"title":"Über uns — händler 中文 🎉"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeContent(EncodeContent(tt.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.input {
				t.Errorf("round trip corrupted content: got %q, want %q", got, tt.input)
			}
		})
	}
}

func TestDecodeContent_StripsEmbeddedNewlines(t *testing.T) {
	// The hosting API wraps long base64 bodies with newlines.
	encoded := EncodeContent(`{"id":"home","blocks":{"hero":"welcome"}}`)
	wrapped := encoded[:12] + "\n" + encoded[12:24] + "\n" + encoded[24:]

	got, err := DecodeContent(wrapped)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"id":"home","blocks":{"hero":"welcome"}}` {
		t.Errorf("unexpected decoded content: %q", got)
	}
}

func TestDecodeContent_InvalidInput(t *testing.T) {
	if _, err := DecodeContent("!!! not base64 !!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
}
