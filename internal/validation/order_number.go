package validation

import (
	"errors"
	"strings"

	"golang.org/x/text/width"
)

// ErrOrderNumber names every accepted order-number shape so staff can correct
// their input without guessing.
var ErrOrderNumber = errors.New("order number must be a draft number (D followed by digits), a 5-digit order number, or an extended order number (6+ digits starting with 1)")

// OrderNumber validates vendor order-number formats. Three shapes are
// accepted: draft orders (D123...), classic 5-digit numbers, and extended
// numbers of six or more digits whose first digit is 1.
func OrderNumber(raw string) error {
	candidate := strings.ReplaceAll(width.Narrow.String(raw), " ", "")
	if candidate == "" {
		return ErrOrderNumber
	}

	if candidate[0] == 'D' || candidate[0] == 'd' {
		if len(candidate) > 1 && allDigits(candidate[1:]) {
			return nil
		}
		return ErrOrderNumber
	}

	if !allDigits(candidate) {
		return ErrOrderNumber
	}
	if len(candidate) == 5 {
		return nil
	}
	if len(candidate) >= 6 && candidate[0] == '1' {
		return nil
	}
	return ErrOrderNumber
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
