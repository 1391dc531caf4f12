package email

import "testing"

func TestRedactEmail(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"john@gmail.com", "j***@gmail.com"},
		{"j@example.com", "j***@example.com"},
		{"longusername@domain.co.uk", "l***@domain.co.uk"},
		{"", ""},
		{"invalidemail", "***"},
		{"@domain.com", "***@domain.com"},
		{"user@sub@domain.com", "u***@sub@domain.com"},
		{"+tagged@gmail.com", "+***@gmail.com"},
	}
	for _, tt := range tests {
		if got := RedactEmail(tt.input); got != tt.want {
			t.Errorf("RedactEmail(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
