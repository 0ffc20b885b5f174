//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"

	"content-batch/internal/domain"
	"content-batch/internal/domain/model"
	"content-batch/internal/domain/ports/repository"
)

func TestQuotaRepos(t *testing.T) {
	ctx := context.Background()
	tm := NewTxManager(testPool)
	accounts := NewQuotaAccountRepo(testPool)
	ledger := NewLedgerRepo(testPool)

	t.Run("should lock and update balances inside a transaction", func(t *testing.T) {
		cleanup(t)
		acc, _ := model.NewQuotaAccount("acc-1", 5, 10, false)
		if err := accounts.Create(ctx, nil, acc); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		err := tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			a, err := accounts.FindByIDForUpdate(ctx, tx, "acc-1")
			if err != nil {
				return err
			}
			a.RecurringBalance, a.ReserveBalance, a.TotalConsumed = 0, 3, 12
			if err := accounts.UpdateBalances(ctx, tx, a); err != nil {
				return err
			}
			return ledger.Append(ctx, tx, &model.LedgerEntry{
				ID: ulid.Make().String(), AccountID: "acc-1", Amount: -12, Type: model.EntryUsage,
				Description: "5 from recurring + 7 from reserve", BalanceAfter: 3, CreatedAt: time.Now(),
				Metadata: model.EntryMetadata{Model: "gpt-4o-mini", ResourceUnits: 120},
			})
		})
		if err != nil {
			t.Fatalf("transaction failed: %v", err)
		}

		got, _ := accounts.FindByID(ctx, nil, "acc-1")
		if got.Total() != 3 || got.TotalConsumed != 12 {
			t.Errorf("unexpected balances: %+v", got)
		}
		entries, err := ledger.ListByAccount(ctx, nil, "acc-1", 10)
		if err != nil {
			t.Fatalf("ListByAccount failed: %v", err)
		}
		if len(entries) != 1 || entries[0].BalanceAfter != 3 || entries[0].Metadata.ResourceUnits != 120 {
			t.Errorf("unexpected entries: %+v", entries)
		}
	})

	t.Run("should refuse FindByIDForUpdate outside a transaction", func(t *testing.T) {
		cleanup(t)
		acc, _ := model.NewQuotaAccount("acc-2", 1, 0, false)
		_ = accounts.Create(ctx, nil, acc)
		if _, err := accounts.FindByIDForUpdate(ctx, nil, "acc-2"); !errors.Is(err, domain.ErrInvalidExecContext) {
			t.Errorf("expected ErrInvalidExecContext, got %v", err)
		}
	})

	t.Run("should reject a duplicate account", func(t *testing.T) {
		cleanup(t)
		first, _ := model.NewQuotaAccount("acc-3", 1, 0, false)
		dup, _ := model.NewQuotaAccount("acc-3", 1, 0, false)
		_ = accounts.Create(ctx, nil, first)
		err := accounts.Create(ctx, nil, dup)
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}
	})
}
