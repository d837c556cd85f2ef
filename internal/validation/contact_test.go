package validation

import (
	"errors"
	"testing"
)

func TestEmail(t *testing.T) {
	valid := []string{
		"reader@example.com",
		"first.last@shop.example.co.uk",
		"staff+holds@bookstore.org",
		"ｒｅａｄｅｒ＠ｅｘａｍｐｌｅ．ｃｏｍ",
	}
	for _, value := range valid {
		if err := Email(value); err != nil {
			t.Fatalf("Email(%q) = %v, want nil", value, err)
		}
	}

	invalid := []string{
		"",
		"reader",
		"@example.com",
		"reader@",
		"reader@example",
		"reader@example.c",
		"reader@example.",
		"reader@@example.com",
		"two words@example.com",
	}
	for _, value := range invalid {
		if err := Email(value); !errors.Is(err, ErrEmail) {
			t.Fatalf("Email(%q) = %v, want ErrEmail", value, err)
		}
	}
}

func TestPhoneNumber(t *testing.T) {
	valid := []string{
		"5551234567",
		"555-123-4567",
		"(555) 123-4567",
		"555.123.4567",
		"+15551234567",
		"+81312345678",
		"+12345678",
	}
	for _, value := range valid {
		if err := PhoneNumber(value); err != nil {
			t.Fatalf("PhoneNumber(%q) = %v, want nil", value, err)
		}
	}

	invalid := []string{
		"",
		"555-1234",
		"55512345678",
		"+1234567",
		"+1555ABC4567",
		"555123456A",
	}
	for _, value := range invalid {
		if err := PhoneNumber(value); !errors.Is(err, ErrPhone) {
			t.Fatalf("PhoneNumber(%q) = %v, want ErrPhone", value, err)
		}
	}
}

func TestGuessContactType(t *testing.T) {
	cases := map[string]struct {
		value string
		want  ContactType
	}{
		"email":          {"reader@example.com", ContactEmail},
		"atWinsOverAll":  {"55512@34567", ContactEmail},
		"bareDigits":     {"5551234567", ContactPhone},
		"formattedPhone": {"(555) 123-4567", ContactPhone},
		"intlPhone":      {"+81 3 1234 5678", ContactPhone},
		"shortDigits":    {"123", ContactUnknown},
		"words":          {"call me maybe", ContactUnknown},
		"mixed":          {"555-HELP", ContactUnknown},
		"empty":          {"", ContactUnknown},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := GuessContactType(tc.value); got != tc.want {
				t.Fatalf("GuessContactType(%q) = %q, want %q", tc.value, got, tc.want)
			}
		})
	}
}

func TestContact(t *testing.T) {
	if kind, err := Contact("reader@example.com"); err != nil || kind != ContactEmail {
		t.Fatalf("Contact(email) = %q, %v", kind, err)
	}
	if kind, err := Contact("555-123-4567"); err != nil || kind != ContactPhone {
		t.Fatalf("Contact(phone) = %q, %v", kind, err)
	}

	// Confident guess applies that validator only.
	if kind, err := Contact("reader@nodot"); !errors.Is(err, ErrEmail) || kind != ContactEmail {
		t.Fatalf("Contact(bad email) = %q, %v, want ErrEmail", kind, err)
	}
	if kind, err := Contact("555-1234"); !errors.Is(err, ErrPhone) || kind != ContactPhone {
		t.Fatalf("Contact(short phone) = %q, %v, want ErrPhone", kind, err)
	}

	// Inconclusive values must fail both validators to be rejected.
	if kind, err := Contact("front desk"); !errors.Is(err, ErrContact) || kind != ContactUnknown {
		t.Fatalf("Contact(words) = %q, %v, want ErrContact", kind, err)
	}
}

func TestForField(t *testing.T) {
	if _, ok := ForField("isbn"); !ok {
		t.Fatal("isbn should have a registered validator")
	}
	if _, ok := ForField("pickup_date"); !ok {
		t.Fatal("pickup_date should have a registered validator")
	}
	if _, ok := ForField("vendor_name"); ok {
		t.Fatal("vendor_name should not have a format validator")
	}
}
