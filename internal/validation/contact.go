package validation

import (
	"errors"
	"strings"

	"golang.org/x/text/width"
)

// ContactType classifies what kind of contact value a customer supplied.
type ContactType string

const (
	// ContactEmail indicates the value looks like an email address.
	ContactEmail ContactType = "email"
	// ContactPhone indicates the value looks like a phone number.
	ContactPhone ContactType = "phone"
	// ContactUnknown indicates the guess was inconclusive; callers should try
	// both validators and accept if either passes.
	ContactUnknown ContactType = "unknown"
)

var (
	// ErrEmail is returned for values that do not look like local@domain.tld.
	ErrEmail = errors.New("email must look like name@domain.tld")
	// ErrPhone is returned for values that do not parse as a phone number.
	ErrPhone = errors.New("phone number must be 10 digits, or start with + followed by at least 8 digits")
	// ErrContact is returned when a contact value passes neither validator.
	ErrContact = errors.New("contact must be a valid email address or phone number")
)

// Email validates a local@domain.tld shape: the domain must contain a dot and
// the final label must be at least two characters.
func Email(raw string) error {
	candidate := strings.TrimSpace(width.Narrow.String(raw))
	at := strings.Index(candidate, "@")
	if at <= 0 || at != strings.LastIndex(candidate, "@") {
		return ErrEmail
	}
	local, domain := candidate[:at], candidate[at+1:]
	if local == "" || domain == "" {
		return ErrEmail
	}
	dot := strings.LastIndex(domain, ".")
	if dot <= 0 || dot == len(domain)-1 {
		return ErrEmail
	}
	if len(domain)-dot-1 < 2 {
		return ErrEmail
	}
	if strings.ContainsAny(candidate, " \t") {
		return ErrEmail
	}
	return nil
}

// PhoneNumber validates a phone number after stripping the separators staff
// commonly type: spaces, dashes, dots, and parentheses. Values starting with
// + must be all digits after the plus and at least nine characters in total;
// anything else must be exactly ten digits.
func PhoneNumber(raw string) error {
	candidate := stripPhone(raw)
	if candidate == "" {
		return ErrPhone
	}
	if strings.HasPrefix(candidate, "+") {
		if len(candidate) < 9 {
			return ErrPhone
		}
		if !allDigits(candidate[1:]) {
			return ErrPhone
		}
		return nil
	}
	if len(candidate) != 10 || !allDigits(candidate) {
		return ErrPhone
	}
	return nil
}

// GuessContactType classifies a raw contact value. Values containing @ are
// guessed as email; values that are mostly digits and phone punctuation with
// at least four digits are guessed as phone; everything else is unknown.
func GuessContactType(raw string) ContactType {
	candidate := strings.TrimSpace(width.Narrow.String(raw))
	if candidate == "" {
		return ContactUnknown
	}
	if strings.Contains(candidate, "@") {
		return ContactEmail
	}

	digits := 0
	other := 0
	for _, r := range candidate {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')' || r == '+':
		default:
			other++
		}
	}
	if digits >= 4 && other == 0 {
		return ContactPhone
	}
	return ContactUnknown
}

// Contact validates a customer contact value using the guess-and-validate
// flow: a confident guess applies that validator, an unknown guess accepts
// the value if either validator passes.
func Contact(raw string) (ContactType, error) {
	switch GuessContactType(raw) {
	case ContactEmail:
		if err := Email(raw); err != nil {
			return ContactEmail, err
		}
		return ContactEmail, nil
	case ContactPhone:
		if err := PhoneNumber(raw); err != nil {
			return ContactPhone, err
		}
		return ContactPhone, nil
	default:
		if Email(raw) == nil {
			return ContactEmail, nil
		}
		if PhoneNumber(raw) == nil {
			return ContactPhone, nil
		}
		return ContactUnknown, ErrContact
	}
}

func stripPhone(raw string) string {
	folded := strings.TrimSpace(width.Narrow.String(raw))
	var b strings.Builder
	for _, r := range folded {
		switch r {
		case ' ', '-', '.', '(', ')':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
