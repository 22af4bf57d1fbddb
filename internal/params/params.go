// Package params reads the runtime business parameters stored in the
// wash_parameters table, falling back to built-in defaults.
package params

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"wasch-booking-backend/internal/store"
)

// Parameter names.
const (
	PaymentMethod = "payment-method"
	BonusMethod   = "bonus-method"
	Price         = "price"
	Ration        = "ration"
	UsePeriod     = "use-period"
)

// Defaults holds the value used for a parameter that was never set.
var Defaults = map[string]string{
	PaymentMethod: "empty",
	BonusMethod:   "bonus",
	Price:         "100",
	Ration:        "12",
	UsePeriod:     "150",
}

// Params is the typed view of WashParameters.
type Params struct {
	store store.Store
}

// New creates a parameter reader over s.
func New(s store.Store) *Params {
	return &Params{store: s}
}

// GetValue returns the stored value of name, or its default.
func (p *Params) GetValue(ctx context.Context, name string) (string, error) {
	v, ok, err := p.store.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to read parameter %s: %w", name, err)
	}
	if ok {
		return v, nil
	}
	if def, known := Defaults[name]; known {
		return def, nil
	}
	return "", fmt.Errorf("unknown parameter %q", name)
}

// UpdateValue stores value under name.
func (p *Params) UpdateValue(ctx context.Context, name, value string) error {
	if _, known := Defaults[name]; !known {
		return fmt.Errorf("unknown parameter %q", name)
	}
	return p.store.SetParameter(ctx, name, value)
}

func (p *Params) PaymentMethod(ctx context.Context) (string, error) {
	return p.GetValue(ctx, PaymentMethod)
}

func (p *Params) BonusMethod(ctx context.Context) (string, error) {
	return p.GetValue(ctx, BonusMethod)
}

// Price is the charge per appointment in the smallest currency unit.
func (p *Params) Price(ctx context.Context) (int64, error) {
	n, err := p.integer(ctx, Price)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("parameter %s must be positive, got %d", Price, n)
	}
	return n, nil
}

// Ration is the number of active appointments a user may hold per month.
func (p *Params) Ration(ctx context.Context) (int64, error) {
	return p.integer(ctx, Ration)
}

// UsePeriod is how long after its start an appointment can still be used.
func (p *Params) UsePeriod(ctx context.Context) (time.Duration, error) {
	minutes, err := p.integer(ctx, UsePeriod)
	if err != nil {
		return 0, err
	}
	return time.Duration(minutes) * time.Minute, nil
}

func (p *Params) integer(ctx context.Context, name string) (int64, error) {
	v, err := p.GetValue(ctx, name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parameter %s is not an integer: %w", name, err)
	}
	return n, nil
}
