package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// EmptyMethod has no funds: it covers nothing and every call is declined.
type EmptyMethod struct{}

func (EmptyMethod) Name() string { return "empty" }

func (EmptyMethod) Coverage(context.Context, int64, string) (int64, error) { return 0, nil }

func (EmptyMethod) Pay(context.Context, int64, string, string, string) (Receipt, error) {
	return Receipt{}, fmt.Errorf("%w: account is empty", ErrDeclined)
}

func (EmptyMethod) Refund(context.Context, string, int64) (Receipt, error) {
	return Receipt{}, fmt.Errorf("%w: account is empty", ErrDeclined)
}

// InfiniteMethod accepts every payment and refund in full.
type InfiniteMethod struct{}

func (InfiniteMethod) Name() string { return "infinite" }

func (InfiniteMethod) Coverage(_ context.Context, value int64, _ string) (int64, error) {
	return value, nil
}

func (InfiniteMethod) Pay(_ context.Context, value int64, _, _, _ string) (Receipt, error) {
	return Receipt{Amount: value, Reference: uuid.NewString()}, nil
}

func (InfiniteMethod) Refund(_ context.Context, _ string, value int64) (Receipt, error) {
	return Receipt{Amount: value, Reference: uuid.NewString()}, nil
}
