package validation

import (
	"errors"
	"testing"
)

func TestOrderNumber(t *testing.T) {
	valid := []string{
		"D9876543",
		"d42",
		"D1",
		"12345",
		"100001",
		"1234567890",
		"1 0000 1",
		"１００００１",
	}
	for _, value := range valid {
		if err := OrderNumber(value); err != nil {
			t.Fatalf("OrderNumber(%q) = %v, want nil", value, err)
		}
	}

	invalid := []string{
		"",
		"   ",
		"D",
		"DABC",
		"D12X4",
		"123",
		"1234",
		"234567",
		"2345678",
		"A1234",
		"12 34",
	}
	for _, value := range invalid {
		if err := OrderNumber(value); !errors.Is(err, ErrOrderNumber) {
			t.Fatalf("OrderNumber(%q) = %v, want ErrOrderNumber", value, err)
		}
	}
}
