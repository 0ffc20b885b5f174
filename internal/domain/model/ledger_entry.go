package model

import "time"

type EntryType string

const (
	EntryUsage        EntryType = "usage"
	EntryPurchase     EntryType = "purchase"
	EntryRefund       EntryType = "refund"
	EntryBonus        EntryType = "bonus"
	EntrySubscription EntryType = "subscription"
)

func (t EntryType) Valid() bool {
	switch t {
	case EntryUsage, EntryPurchase, EntryRefund, EntryBonus, EntrySubscription:
		return true
	}
	return false
}

type EntryMetadata struct {
	Model         string `json:"model,omitempty"`
	ResourceUnits int    `json:"resource_units,omitempty"`
	JobID         string `json:"job_id,omitempty"`
	ItemID        string `json:"item_id,omitempty"`
}

// LedgerEntry is an immutable audit record of one balance change.
type LedgerEntry struct {
	ID           string        `json:"id"`
	AccountID    string        `json:"account_id"`
	Amount       int64         `json:"amount"`
	Type         EntryType     `json:"type"`
	Description  string        `json:"description"`
	Metadata     EntryMetadata `json:"metadata"`
	BalanceAfter int64         `json:"balance_after"`
	CreatedAt    time.Time     `json:"created_at"`
}
