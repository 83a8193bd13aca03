package library

import "testing"

func TestValidISBN(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"123456789X", true},
		{"123456789x", true},
		{"0-306-40615-2", true},
		{"978-0-306-40615-7", true},
		{" 9780306406157 ", true},
		{"12345678X9", false},
		{"12345", false},
		{"97803064061578", false},
		{"abcdefghij", false},
		{"", false},
	}
	for _, c := range cases {
		if got := ValidISBN(c.in); got != c.want {
			t.Errorf("ValidISBN(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestNormalizeISBN(t *testing.T) {
	if got := NormalizeISBN(" 0-306 40615-x "); got != "030640615X" {
		t.Fatalf("normalize: got %q", got)
	}
}
