package language

import "testing"

func TestToISO2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"en", "en"},
		{"EN", "en"},
		{"en-US", "en"},
		{"pt_BR", "pt"},
		{"eng", "en"},
		{"spa", "es"},
		{"deu", "de"},
		{"english", "en"},
		{" German ", "de"},
		{"auto", ""},
		{"", ""},
		{"not a language", ""},
	}
	for _, tt := range tests {
		if got := ToISO2(tt.input); got != tt.expected {
			t.Errorf("ToISO2(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestToBCP47(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"en-US", "en-US"},
		{"en-gb", "en-GB"},
		{"en", "en-US"},
		{"french", "fr-FR"},
		{"ja", "ja-JP"},
		{"", "en-US"},
		{"???", "en-US"},
	}
	for _, tt := range tests {
		if got := ToBCP47(tt.input, "en-US"); got != tt.expected {
			t.Errorf("ToBCP47(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
