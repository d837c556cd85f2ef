// Package registry holds the static per-type configuration for the special
// request workflow: legal statuses, allowed transitions, and the fields a
// transition must supply. The registry is immutable after construction;
// deployment-specific tweaks are applied through explicit options rather
// than by patching shared state.
package registry

import (
	"fmt"
	"sort"

	"github.com/shelfmark/intake/internal/domain"
)

// TypeConfig describes one request type's workflow rules.
type TypeConfig struct {
	// RequiredCreationFields must be present and non-empty at intake.
	RequiredCreationFields []string
	// Transitions maps a status to the statuses it may move to. A status with
	// no entry (or an empty entry) is terminal.
	Transitions map[domain.RequestStatus][]domain.RequestStatus
	// RequiredFieldsPerStatus lists fields that must accompany a transition
	// into the keyed status.
	RequiredFieldsPerStatus map[domain.RequestStatus][]string
}

// Registry answers workflow-rule queries for registered request types.
type Registry struct {
	types map[domain.RequestType]TypeConfig
}

// UnknownTypeError is returned when a query names an unregistered type.
type UnknownTypeError struct {
	Type domain.RequestType
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown request type %q", string(e.Type))
}

// Option customises the registry during construction.
type Option func(map[domain.RequestType]TypeConfig) error

// WithTransitions replaces the transition table for one type. Used by
// deployments that trim or extend the stock workflow.
func WithTransitions(t domain.RequestType, transitions map[domain.RequestStatus][]domain.RequestStatus) Option {
	return func(types map[domain.RequestType]TypeConfig) error {
		cfg, ok := types[t]
		if !ok {
			return &UnknownTypeError{Type: t}
		}
		cfg.Transitions = cloneTransitions(transitions)
		types[t] = cfg
		return nil
	}
}

// WithRequiredFields replaces the required-field set for one target status of
// one type.
func WithRequiredFields(t domain.RequestType, status domain.RequestStatus, fields []string) Option {
	return func(types map[domain.RequestType]TypeConfig) error {
		cfg, ok := types[t]
		if !ok {
			return &UnknownTypeError{Type: t}
		}
		required := cloneFieldSets(cfg.RequiredFieldsPerStatus)
		required[status] = append([]string(nil), fields...)
		cfg.RequiredFieldsPerStatus = required
		types[t] = cfg
		return nil
	}
}

// New constructs the registry with the stock workflow tables, applying any
// overrides before the registry is sealed. An override naming an unregistered
// type is a deployment mistake and fails construction.
func New(opts ...Option) (*Registry, error) {
	types := stockTypes()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(types); err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
	}
	return &Registry{types: types}, nil
}

// Types returns the registered request types in stable order.
func (r *Registry) Types() []domain.RequestType {
	out := make([]domain.RequestType, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Known reports whether the type is registered.
func (r *Registry) Known(t domain.RequestType) bool {
	_, ok := r.types[t]
	return ok
}

// RequiredCreationFields returns the fields that must be supplied to create
// a request of the given type.
func (r *Registry) RequiredCreationFields(t domain.RequestType) ([]string, error) {
	cfg, ok := r.types[t]
	if !ok {
		return nil, &UnknownTypeError{Type: t}
	}
	return append([]string(nil), cfg.RequiredCreationFields...), nil
}

// Transitions returns the statuses the given status may move to for the
// given type. Terminal statuses return an empty slice.
func (r *Registry) Transitions(t domain.RequestType, status domain.RequestStatus) ([]domain.RequestStatus, error) {
	cfg, ok := r.types[t]
	if !ok {
		return nil, &UnknownTypeError{Type: t}
	}
	return append([]domain.RequestStatus(nil), cfg.Transitions[status]...), nil
}

// CanTransition reports whether the type allows moving from one status to
// another.
func (r *Registry) CanTransition(t domain.RequestType, from, to domain.RequestStatus) (bool, error) {
	next, err := r.Transitions(t, from)
	if err != nil {
		return false, err
	}
	for _, candidate := range next {
		if candidate == to {
			return true, nil
		}
	}
	return false, nil
}

// RequiredFieldsForStatus returns the fields a transition into the target
// status must supply for the given type.
func (r *Registry) RequiredFieldsForStatus(t domain.RequestType, status domain.RequestStatus) ([]string, error) {
	cfg, ok := r.types[t]
	if !ok {
		return nil, &UnknownTypeError{Type: t}
	}
	return append([]string(nil), cfg.RequiredFieldsPerStatus[status]...), nil
}

// IsTerminal reports whether the status has no outgoing transitions for the
// given type.
func (r *Registry) IsTerminal(t domain.RequestType, status domain.RequestStatus) (bool, error) {
	next, err := r.Transitions(t, status)
	if err != nil {
		return false, err
	}
	return len(next) == 0, nil
}

// PossibleStatuses returns every status reachable by the given type,
// including the terminal ones, in workflow order.
func (r *Registry) PossibleStatuses(t domain.RequestType) ([]domain.RequestStatus, error) {
	cfg, ok := r.types[t]
	if !ok {
		return nil, &UnknownTypeError{Type: t}
	}
	seen := map[domain.RequestStatus]bool{domain.StatusNew: true}
	out := []domain.RequestStatus{domain.StatusNew}
	for _, status := range statusOrder {
		if seen[status] {
			continue
		}
		if reachable(cfg, status) {
			seen[status] = true
			out = append(out, status)
		}
	}
	return out, nil
}

var statusOrder = []domain.RequestStatus{
	domain.StatusNew,
	domain.StatusOrdered,
	domain.StatusReceived,
	domain.StatusNotified,
	domain.StatusPaid,
	domain.StatusCompleted,
	domain.StatusCancelled,
}

func reachable(cfg TypeConfig, status domain.RequestStatus) bool {
	for _, targets := range cfg.Transitions {
		for _, target := range targets {
			if target == status {
				return true
			}
		}
	}
	return false
}

// fulfilmentTransitions is the stock pipeline for types that place an order
// with an outside vendor or publisher.
func fulfilmentTransitions() map[domain.RequestStatus][]domain.RequestStatus {
	return map[domain.RequestStatus][]domain.RequestStatus{
		domain.StatusNew:      {domain.StatusOrdered, domain.StatusCancelled},
		domain.StatusOrdered:  {domain.StatusReceived, domain.StatusCancelled},
		domain.StatusReceived: {domain.StatusNotified, domain.StatusCancelled},
		domain.StatusNotified: {domain.StatusPaid, domain.StatusCancelled},
		domain.StatusPaid:     {domain.StatusCompleted},
	}
}

// fulfilmentRequiredFields gates each fulfilment-pipeline status on the data
// staff must capture before moving a ticket forward.
func fulfilmentRequiredFields() map[domain.RequestStatus][]string {
	return map[domain.RequestStatus][]string{
		domain.StatusOrdered:  {"order_number", "estimated_arrival"},
		domain.StatusReceived: {"arrival_date"},
		domain.StatusNotified: {"notification_date"},
		domain.StatusPaid:     {"payment_method"},
	}
}

func stockTypes() map[domain.RequestType]TypeConfig {
	baseCreation := []string{"customer_name", "customer_contact", "title"}

	types := map[domain.RequestType]TypeConfig{
		domain.RequestTypeSpecialOrder: {
			RequiredCreationFields:  append(append([]string(nil), baseCreation...), "isbn"),
			Transitions:             fulfilmentTransitions(),
			RequiredFieldsPerStatus: fulfilmentRequiredFields(),
		},
		domain.RequestTypeBackorder: {
			RequiredCreationFields:  append(append([]string(nil), baseCreation...), "isbn"),
			Transitions:             fulfilmentTransitions(),
			RequiredFieldsPerStatus: fulfilmentRequiredFields(),
		},
		domain.RequestTypeOutOfPrint: {
			RequiredCreationFields:  append(append([]string(nil), baseCreation...), "condition"),
			Transitions:             fulfilmentTransitions(),
			RequiredFieldsPerStatus: fulfilmentRequiredFields(),
		},
		domain.RequestTypeBulkOrder: {
			RequiredCreationFields:  append(append([]string(nil), baseCreation...), "quantity", "date_needed"),
			Transitions:             fulfilmentTransitions(),
			RequiredFieldsPerStatus: fulfilmentRequiredFields(),
		},
		domain.RequestTypePersonalization: {
			RequiredCreationFields: append(append([]string(nil), baseCreation...), "personalization_details"),
			// Personalization is in-house work: nothing is ordered, the piece
			// goes straight from intake to received-and-ready.
			Transitions: map[domain.RequestStatus][]domain.RequestStatus{
				domain.StatusNew:      {domain.StatusReceived, domain.StatusCancelled},
				domain.StatusReceived: {domain.StatusNotified, domain.StatusCancelled},
				domain.StatusNotified: {domain.StatusPaid, domain.StatusCancelled},
				domain.StatusPaid:     {domain.StatusCompleted},
			},
			RequiredFieldsPerStatus: map[domain.RequestStatus][]string{
				domain.StatusReceived: {"arrival_date"},
				domain.StatusNotified: {"notification_date"},
				domain.StatusPaid:     {"payment_method"},
			},
		},
		domain.RequestTypeBookHold: {
			RequiredCreationFields: append(append([]string(nil), baseCreation...), "pickup_date"),
			Transitions: map[domain.RequestStatus][]domain.RequestStatus{
				domain.StatusNew:  {domain.StatusPaid, domain.StatusCancelled},
				domain.StatusPaid: {domain.StatusCompleted, domain.StatusCancelled},
			},
			RequiredFieldsPerStatus: map[domain.RequestStatus][]string{
				domain.StatusPaid: {"payment_method", "order_number"},
			},
		},
	}
	return types
}

func cloneTransitions(src map[domain.RequestStatus][]domain.RequestStatus) map[domain.RequestStatus][]domain.RequestStatus {
	out := make(map[domain.RequestStatus][]domain.RequestStatus, len(src))
	for status, targets := range src {
		out[status] = append([]domain.RequestStatus(nil), targets...)
	}
	return out
}

func cloneFieldSets(src map[domain.RequestStatus][]string) map[domain.RequestStatus][]string {
	out := make(map[domain.RequestStatus][]string, len(src))
	for status, fields := range src {
		out[status] = append([]string(nil), fields...)
	}
	return out
}
