package validation

import (
	"errors"
	"strings"

	"golang.org/x/text/width"
)

var (
	// ErrISBNEmpty is returned when the candidate is blank after stripping.
	ErrISBNEmpty = errors.New("ISBN cannot be empty")
	// ErrISBN13Prefix is returned when a 13-digit candidate lacks a valid GS1 prefix.
	ErrISBN13Prefix = errors.New("ISBN-13 must start with 978 or 979")
	// ErrISBN13Checksum is returned when the ISBN-13 check digit does not match.
	ErrISBN13Checksum = errors.New("Invalid ISBN-13 checksum")
	// ErrISBN10Checksum is returned when the ISBN-10 check digit does not match.
	ErrISBN10Checksum = errors.New("Invalid ISBN-10 checksum")
	// ErrISBNLength is returned for all-digit candidates of the wrong length.
	ErrISBNLength = errors.New("Numeric ISBN must be either 10 or 13 digits long")
)

// ISBN validates an ISBN-10 or ISBN-13 with checksum verification. Spaces and
// hyphens are stripped first and full-width digits folded to ASCII (chat
// clients paste both). A non-numeric, non-empty value is accepted as a legacy
// store SKU; digits of the wrong length are rejected outright.
func ISBN(raw string) error {
	candidate := stripISBN(raw)
	if candidate == "" {
		return ErrISBNEmpty
	}

	if !isbnDigits(candidate) {
		// Non-standard SKU, e.g. used-book inventory codes. Accepted as-is.
		return nil
	}

	switch len(candidate) {
	case 13:
		if !strings.HasPrefix(candidate, "978") && !strings.HasPrefix(candidate, "979") {
			return ErrISBN13Prefix
		}
		if !isbn13ChecksumOK(candidate) {
			return ErrISBN13Checksum
		}
		return nil
	case 10:
		if !isbn10ChecksumOK(candidate) {
			return ErrISBN10Checksum
		}
		return nil
	default:
		return ErrISBNLength
	}
}

func stripISBN(raw string) string {
	folded := width.Narrow.String(raw)
	var b strings.Builder
	for _, r := range folded {
		switch r {
		case ' ', '-', '‐', '‑', '‒', '–', '—':
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(strings.TrimSpace(b.String()))
}

// isbnDigits reports whether the candidate is all digits, allowing the
// trailing X of a 10-character ISBN-10.
func isbnDigits(candidate string) bool {
	for i, r := range candidate {
		if r >= '0' && r <= '9' {
			continue
		}
		if r == 'X' && len(candidate) == 10 && i == 9 {
			continue
		}
		return false
	}
	return true
}

func isbn13ChecksumOK(candidate string) bool {
	sum := 0
	for i := 0; i < 12; i++ {
		digit := int(candidate[i] - '0')
		if i%2 == 1 {
			digit *= 3
		}
		sum += digit
	}
	check := (10 - sum%10) % 10
	return int(candidate[12]-'0') == check
}

func isbn10ChecksumOK(candidate string) bool {
	sum := 0
	for i := 0; i < 10; i++ {
		var value int
		switch {
		case candidate[i] >= '0' && candidate[i] <= '9':
			value = int(candidate[i] - '0')
		case candidate[i] == 'X' && i == 9:
			value = 10
		default:
			return false
		}
		sum += value * (10 - i)
	}
	return sum%11 == 0
}
