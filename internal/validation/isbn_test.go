package validation

import (
	"errors"
	"testing"
)

func TestISBNValid(t *testing.T) {
	cases := map[string]string{
		"isbn13":            "9780306406157",
		"isbn13Hyphenated":  "978-0-306-40615-7",
		"isbn13Spaced":      "978 0306 406157",
		"isbn13Prefix979":   "9791090636071",
		"isbn10":            "0306406152",
		"isbn10TrailingX":   "123456789X",
		"isbn10LowercaseX":  "123456789x",
		"fullWidthDigits":   "９７８０３０６４０６１５７",
		"legacySKU":         "USED-4471",
		"legacySKULettered": "CONSIGN99A",
	}

	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			if err := ISBN(value); err != nil {
				t.Fatalf("ISBN(%q) = %v, want nil", value, err)
			}
		})
	}
}

func TestISBNInvalid(t *testing.T) {
	cases := map[string]struct {
		value string
		want  error
	}{
		"empty":            {"", ErrISBNEmpty},
		"whitespaceOnly":   {"   ", ErrISBNEmpty},
		"hyphensOnly":      {"---", ErrISBNEmpty},
		"badPrefix":        {"1234567890123", ErrISBN13Prefix},
		"badChecksum13":    {"9780306406158", ErrISBN13Checksum},
		"badChecksum10":    {"0306406153", ErrISBN10Checksum},
		"elevenDigits":     {"03064061521", ErrISBNLength},
		"twelveDigits":     {"978030640615", ErrISBNLength},
		"fourteenDigits":   {"97803064061570", ErrISBNLength},
		"checksumOffByOne": {"978-0-306-40615-8", ErrISBN13Checksum},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := ISBN(tc.value)
			if !errors.Is(err, tc.want) {
				t.Fatalf("ISBN(%q) = %v, want %v", tc.value, err, tc.want)
			}
		})
	}
}

func TestISBNMidStringXRejectsDigitsPath(t *testing.T) {
	// An X anywhere but the final position of a 10-character value makes the
	// candidate non-numeric, so it falls through to the legacy SKU path.
	if err := ISBN("12345X7890"); err != nil {
		t.Fatalf("ISBN with interior X should be treated as a SKU, got %v", err)
	}
}
