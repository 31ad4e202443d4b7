package feestructure

import (
	"context"
	"errors"

	fees "schoolfees-cloud/internal/fees/domain"
)

// FixedAmountProvider resolves every obligation to one configured amount.
type FixedAmountProvider struct {
	amount float64
}

// NewFixedAmountProvider constructs the provider.
func NewFixedAmountProvider(amount float64) (*FixedAmountProvider, error) {
	if amount < 0 {
		return nil, errors.New("fee structure: negative amount")
	}
	return &FixedAmountProvider{amount: amount}, nil
}

// ResolveTotalDue returns the configured amount for any account and period.
func (p *FixedAmountProvider) ResolveTotalDue(ctx context.Context, accountID string, period fees.Period) (float64, error) {
	_ = ctx
	_ = accountID
	_ = period
	return p.amount, nil
}
