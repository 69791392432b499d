package util

import (
	"strings"
	"unicode/utf8"
)

const maxDisplayNameRunes = 40

// IsValidCode reports whether code has the given length and only uses alphabet characters.
func IsValidCode(code, alphabet string, length int) bool {
	if len(code) != length {
		return false
	}
	for _, c := range code {
		if !strings.ContainsRune(alphabet, c) {
			return false
		}
	}
	return true
}

// NormalizeCode upper-cases and trims a user-typed join code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CleanDisplayName trims a display name and truncates it to a sane length.
// It returns "" when nothing printable is left.
func CleanDisplayName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if utf8.RuneCountInString(name) > maxDisplayNameRunes {
		name = string([]rune(name)[:maxDisplayNameRunes])
	}
	return name
}
