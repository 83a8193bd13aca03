package library

import (
	"regexp"
	"strings"
)

var (
	isbn10 = regexp.MustCompile(`^\d{9}[\dX]$`)
	isbn13 = regexp.MustCompile(`^\d{13}$`)
)

// NormalizeISBN strips hyphens and spaces and upper-cases a trailing x.
func NormalizeISBN(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("-", "", " ", "").Replace(s)
	return strings.ToUpper(s)
}

// ValidISBN reports whether s has the shape of an ISBN-10 (nine digits and a
// check digit or X) or an ISBN-13 (thirteen digits). Check digits are not verified.
func ValidISBN(s string) bool {
	n := NormalizeISBN(s)
	return isbn10.MatchString(n) || isbn13.MatchString(n)
}
