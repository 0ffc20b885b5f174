package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"content-batch/internal/domain"
	"content-batch/internal/domain/model"
	"content-batch/internal/domain/ports/repository"
	ucport "content-batch/internal/domain/ports/usecase"
	"content-batch/internal/infra/logging"
	"content-batch/internal/infra/metrics"
)

// Compile-time check
var _ LedgerUseCase = (*ledgerUC)(nil)

type LedgerUseCase interface {
	ucport.QuotaManager

	// OpenAccount creates an account with its initial balances. Initial
	// balances are not ledger entries.
	OpenAccount(ctx context.Context, accountID string, recurring, reserve int64, unlimited bool) (*model.QuotaAccount, error)
	GetBalance(ctx context.Context, accountID string) (model.Balance, error)
	// GetHistory returns the newest entries first.
	GetHistory(ctx context.Context, accountID string, limit int) ([]*model.LedgerEntry, error)
}

const (
	defaultLockTTL     = 10 * time.Second
	defaultHistorySize = 50
	maxHistorySize     = 500
)

type ledgerUC struct {
	accounts repository.QuotaAccountRepository
	entries  repository.LedgerRepository
	tm       repository.TransactionManager
	locker   repository.Locker
	log      *zerolog.Logger
	lockTTL  time.Duration
}

func NewLedgerUseCase(
	accounts repository.QuotaAccountRepository,
	entries repository.LedgerRepository,
	tm repository.TransactionManager,
	locker repository.Locker,
	logger *zerolog.Logger,
	opts ...LedgerOption,
) *ledgerUC {
	if logger == nil {
		logger = logging.Nop()
	}
	l := logger.With().Str("component", "ledger").Logger()
	u := &ledgerUC{accounts: accounts, entries: entries, tm: tm, locker: locker, log: &l, lockTTL: defaultLockTTL}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

type LedgerOption func(*ledgerUC)

// WithLockTTL sets both the account lock lease and the longest wait for it.
func WithLockTTL(d time.Duration) LedgerOption {
	return func(u *ledgerUC) {
		if d > 0 {
			u.lockTTL = d
		}
	}
}

func (u *ledgerUC) OpenAccount(ctx context.Context, accountID string, recurring, reserve int64, unlimited bool) (*model.QuotaAccount, error) {
	acc, err := model.NewQuotaAccount(strings.TrimSpace(accountID), recurring, reserve, unlimited)
	if err != nil {
		return nil, err
	}
	if err := u.accounts.Create(ctx, repository.NoTX, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

func (u *ledgerUC) HasEnough(ctx context.Context, accountID string, amount int64) (bool, error) {
	acc, err := u.accounts.FindByID(ctx, repository.NoTX, accountID)
	if err != nil {
		return false, err
	}
	return acc.HasEnough(amount), nil
}

// Debit drains the recurring pool before the reserve pool and writes one
// usage entry. Unlimited accounts keep their balances and get an entry with
// model.UnlimitedBalanceSentinel as BalanceAfter.
func (u *ledgerUC) Debit(ctx context.Context, accountID string, amount int64, description string, meta model.EntryMetadata) (int64, error) {
	if amount <= 0 || accountID == "" {
		return 0, domain.ErrInvalidArgument
	}
	defer logging.TraceDuration(u.log, "LedgerUC.Debit")()

	var balanceAfter int64
	err := u.locked(ctx, accountID, func(ctx context.Context, tx repository.Tx) error {
		acc, err := u.accounts.FindByIDForUpdate(ctx, tx, accountID)
		if err != nil {
			return err
		}
		entry := &model.LedgerEntry{
			ID:        ulid.Make().String(),
			AccountID: accountID,
			Amount:    -amount,
			Type:      model.EntryUsage,
			Metadata:  meta,
			CreatedAt: time.Now(),
		}

		if acc.Unlimited {
			acc.TotalConsumed += amount
			entry.Description = description
			entry.BalanceAfter = model.UnlimitedBalanceSentinel
			if err := u.accounts.UpdateBalances(ctx, tx, acc); err != nil {
				return err
			}
			if err := u.entries.Append(ctx, tx, entry); err != nil {
				return err
			}
			metrics.AddCredits("debit", "unlimited", amount)
			balanceAfter = entry.BalanceAfter
			return nil
		}

		if !acc.HasEnough(amount) {
			metrics.IncInsufficientBalance()
			return domain.ErrInsufficientBalance
		}
		fromRecurring, fromReserve := acc.Split(amount)
		acc.RecurringBalance -= fromRecurring
		acc.ReserveBalance -= fromReserve
		acc.TotalConsumed += amount
		entry.Description = splitDescription(description, fromRecurring, fromReserve)
		entry.BalanceAfter = acc.Total()

		if err := u.accounts.UpdateBalances(ctx, tx, acc); err != nil {
			return err
		}
		if err := u.entries.Append(ctx, tx, entry); err != nil {
			return err
		}
		metrics.AddCredits("debit", "recurring", fromRecurring)
		metrics.AddCredits("debit", "reserve", fromReserve)
		balanceAfter = entry.BalanceAfter
		return nil
	})
	if err != nil {
		return 0, err
	}
	metrics.IncLedgerEntry(string(model.EntryUsage))
	return balanceAfter, nil
}

func splitDescription(description string, fromRecurring, fromReserve int64) string {
	split := fmt.Sprintf("%d from recurring + %d from reserve", fromRecurring, fromReserve)
	if description == "" {
		return split
	}
	return description + " (" + split + ")"
}

// Credit adds to the recurring pool for subscription entries and to the
// reserve pool otherwise. Only purchases count toward TotalPurchased.
func (u *ledgerUC) Credit(ctx context.Context, accountID string, amount int64, typ model.EntryType, description string) (int64, error) {
	if amount <= 0 || accountID == "" || !typ.Valid() || typ == model.EntryUsage {
		return 0, domain.ErrInvalidArgument
	}

	var balanceAfter int64
	err := u.locked(ctx, accountID, func(ctx context.Context, tx repository.Tx) error {
		acc, err := u.accounts.FindByIDForUpdate(ctx, tx, accountID)
		if err != nil {
			return err
		}
		pool := "reserve"
		if typ == model.EntrySubscription {
			acc.RecurringBalance += amount
			pool = "recurring"
		} else {
			acc.ReserveBalance += amount
		}
		if typ == model.EntryPurchase {
			acc.TotalPurchased += amount
		}
		balanceAfter = acc.Total()
		if acc.Unlimited {
			balanceAfter = model.UnlimitedBalanceSentinel
		}
		if err := u.accounts.UpdateBalances(ctx, tx, acc); err != nil {
			return err
		}
		err = u.entries.Append(ctx, tx, &model.LedgerEntry{
			ID:           ulid.Make().String(),
			AccountID:    accountID,
			Amount:       amount,
			Type:         typ,
			Description:  description,
			BalanceAfter: balanceAfter,
			CreatedAt:    time.Now(),
		})
		if err != nil {
			return err
		}
		metrics.AddCredits("credit", pool, amount)
		return nil
	})
	if err != nil {
		return 0, err
	}
	metrics.IncLedgerEntry(string(typ))
	u.log.Info().Str("account_id", accountID).Str("type", string(typ)).Int64("amount", amount).Msg("credited")
	return balanceAfter, nil
}

func (u *ledgerUC) GetBalance(ctx context.Context, accountID string) (model.Balance, error) {
	acc, err := u.accounts.FindByID(ctx, repository.NoTX, accountID)
	if err != nil {
		return model.Balance{}, err
	}
	return acc.Balance(), nil
}

func (u *ledgerUC) GetHistory(ctx context.Context, accountID string, limit int) ([]*model.LedgerEntry, error) {
	if limit <= 0 {
		limit = defaultHistorySize
	}
	if limit > maxHistorySize {
		limit = maxHistorySize
	}
	if _, err := u.accounts.FindByID(ctx, repository.NoTX, accountID); err != nil {
		return nil, err
	}
	return u.entries.ListByAccount(ctx, repository.NoTX, accountID, limit)
}

// locked runs fn under the account lock and inside one transaction. Waiting
// for the lock is bounded by lockTTL even when ctx has no deadline.
func (u *ledgerUC) locked(ctx context.Context, accountID string, fn func(ctx context.Context, tx repository.Tx) error) error {
	key := "quota:" + accountID
	waitCtx, cancel := context.WithTimeout(ctx, u.lockTTL)
	token, err := u.locker.TryLock(waitCtx, key, u.lockTTL)
	cancel()
	if err != nil {
		if !errors.Is(err, domain.ErrLockNotAcquired) {
			err = fmt.Errorf("%w: %s: %v", domain.ErrLockNotAcquired, key, err)
		}
		return err
	}
	defer func() {
		if err := u.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			u.log.Warn().Err(err).Str("account_id", accountID).Msg("unlock failed")
		}
	}()
	return u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}
