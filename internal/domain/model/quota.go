package model

import (
	"time"

	"content-batch/internal/domain"
)

// UnlimitedBalanceSentinel is written as BalanceAfter for unlimited accounts.
const UnlimitedBalanceSentinel int64 = -1

type QuotaAccount struct {
	ID               string
	RecurringBalance int64
	ReserveBalance   int64
	TotalConsumed    int64
	TotalPurchased   int64
	Unlimited        bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func NewQuotaAccount(id string, recurring, reserve int64, unlimited bool) (*QuotaAccount, error) {
	if id == "" || recurring < 0 || reserve < 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &QuotaAccount{
		ID:               id,
		RecurringBalance: recurring,
		ReserveBalance:   reserve,
		Unlimited:        unlimited,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func (a *QuotaAccount) Total() int64 { return a.RecurringBalance + a.ReserveBalance }

func (a *QuotaAccount) HasEnough(amount int64) bool {
	return a.Unlimited || a.Total() >= amount
}

// Split returns how much of amount is drawn from the recurring pool and
// how much spills into the reserve pool. Recurring is always exhausted first.
func (a *QuotaAccount) Split(amount int64) (fromRecurring, fromReserve int64) {
	fromRecurring = amount
	if fromRecurring > a.RecurringBalance {
		fromRecurring = a.RecurringBalance
	}
	return fromRecurring, amount - fromRecurring
}

type Balance struct {
	AccountID      string `json:"account_id"`
	Recurring      int64  `json:"recurring"`
	Reserve        int64  `json:"reserve"`
	Total          int64  `json:"total"`
	TotalConsumed  int64  `json:"total_consumed"`
	TotalPurchased int64  `json:"total_purchased"`
	Unlimited      bool   `json:"unlimited"`
}

func (a *QuotaAccount) Balance() Balance {
	return Balance{
		AccountID:      a.ID,
		Recurring:      a.RecurringBalance,
		Reserve:        a.ReserveBalance,
		Total:          a.Total(),
		TotalConsumed:  a.TotalConsumed,
		TotalPurchased: a.TotalPurchased,
		Unlimited:      a.Unlimited,
	}
}
