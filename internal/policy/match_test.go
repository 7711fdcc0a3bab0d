package policy

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		text    string
		pattern string
		want    bool
	}{
		{"read inbox", "read*", true},
		{"read inbox", "*inbox", true},
		{"read and send messages", "*send*", true},
		{"send", "*send*", true},
		{"resend", "*send*", true},
		{"read inbox", "*send*", false},
		{"read inbox", "read inbox", true},
		{"read inbox now", "read inbox", false},
		{"read", "read*", true},
		{"", "*", true},
		{"anything at all", "*", true},
		{"", "", true},
		{"x", "", false},
		{"read a/b/c", "read*", true},
		{"open the mail app", "open*mail*", true},
		{"open the app", "open*mail*", false},
		{"aaab", "*a*b", true},
		{"abcabd", "*abd", true},
		{"a?c", "a?c", true},
		{"abc", "a?c", false},
		{"a[b]c", "a[b]c", true},
	}
	for _, tt := range tests {
		if got := Match(tt.text, tt.pattern); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.text, tt.pattern, got, tt.want)
		}
	}
}

func TestMatchCaseInsensitive(t *testing.T) {
	if !Match("READ INBOX", "read*") {
		t.Error(`expected Match("READ INBOX", "read*")`)
	}
	if !Match("read inbox", "READ*") {
		t.Error(`expected Match("read inbox", "READ*")`)
	}
	if !Match("Delete ALL", "*delete*") {
		t.Error(`expected Match("Delete ALL", "*delete*")`)
	}
	if !Match("ÉCRIRE", "écrire") {
		t.Error("expected non-ASCII case folding")
	}
}
