package main

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateField(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short unchanged", "duplex", 19, "duplex"},
		{"exact length unchanged", strings.Repeat("a", 19), 19, strings.Repeat("a", 19)},
		{"long ascii", strings.Repeat("a", 30), 19, strings.Repeat("a", 18) + "…"},
		{"multibyte at boundary", "ws://bücher.example/socket/path", 19, "ws://bücher.exampl…"},
		{"all multibyte", strings.Repeat("ü", 25), 19, strings.Repeat("ü", 18) + "…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateField(tt.in, tt.max)
			if got != tt.want {
				t.Errorf("truncateField(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncateField(%q) produced invalid UTF-8", tt.in)
			}
			if n := utf8.RuneCountInString(got); n > tt.max {
				t.Errorf("rune count = %d, want <= %d", n, tt.max)
			}
		})
	}
}
