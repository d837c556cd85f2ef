package validation

import "time"

// Func validates a single field value at a given validation instant. All
// validators are pure: the same inputs always produce the same result.
type Func func(value string, now time.Time) error

// instantFree adapts validators that do not depend on the clock.
func instantFree(fn func(string) error) Func {
	return func(value string, _ time.Time) error {
		return fn(value)
	}
}

var fieldValidators = map[string]Func{
	"isbn":         instantFree(ISBN),
	"order_number": instantFree(OrderNumber),
	"customer_contact": func(value string, _ time.Time) error {
		_, err := Contact(value)
		return err
	},

	// Recorded-in-the-past fields.
	"arrival_date":      PastOrToday,
	"notification_date": PastOrToday,
	"completion_date":   PastOrToday,

	// Promised-ahead fields.
	"estimated_arrival": FutureDate,
	"date_needed":       FutureDate,
	"pickup_date":       FutureDate,
}

// ForField returns the format validator registered for a field name, if any.
// Fields without a validator only need to be present and non-empty.
func ForField(name string) (Func, bool) {
	fn, ok := fieldValidators[name]
	return fn, ok
}
