package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"content-batch/internal/config"
	"content-batch/internal/domain"
	"content-batch/internal/infra/api"
	"content-batch/internal/infra/db/memory"
	pg "content-batch/internal/infra/db/postgres"
	"content-batch/internal/infra/logging"
	"content-batch/internal/usecase"
)

// seed opens quota accounts in Postgres and prints bearer tokens for them.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	accountID := flag.String("account", "demo", "quota account id to open")
	recurring := flag.Int64("recurring", 100, "initial recurring credits")
	reserve := flag.Int64("reserve", 0, "initial reserve credits")
	unlimited := flag.Bool("unlimited", false, "open an unlimited account")
	adminToken := flag.Bool("admin", false, "also print an admin token")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		log.Fatalf("seed needs database.driver: postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	ledger := usecase.NewLedgerUseCase(
		pg.NewQuotaAccountRepo(pool), pg.NewLedgerRepo(pool), pg.NewTxManager(pool),
		memory.NewKeyedLocker(), logging.Nop(),
	)

	acc, err := ledger.OpenAccount(ctx, *accountID, *recurring, *reserve, *unlimited)
	switch {
	case errors.Is(err, domain.ErrAlreadyExists):
		bal, err := ledger.GetBalance(ctx, *accountID)
		if err != nil {
			log.Fatalf("get balance: %v", err)
		}
		fmt.Printf("account %s already present (recurring=%d reserve=%d unlimited=%t)\n", bal.AccountID, bal.Recurring, bal.Reserve, bal.Unlimited)
	case err != nil:
		log.Fatalf("open account %q: %v", *accountID, err)
	default:
		fmt.Printf("opened account %s (recurring=%d reserve=%d unlimited=%t)\n", acc.ID, acc.RecurringBalance, acc.ReserveBalance, acc.Unlimited)
	}

	auth := api.NewAuthManager(cfg.Security.JWTSecret, cfg.Security.TokenTTL)
	tok, err := auth.Mint(*accountID, api.RoleAccount)
	if err != nil {
		log.Fatalf("mint token: %v", err)
	}
	fmt.Printf("account token: %s\n", tok)
	if *adminToken {
		tok, err := auth.Mint("admin", api.RoleAdmin)
		if err != nil {
			log.Fatalf("mint admin token: %v", err)
		}
		fmt.Printf("admin token: %s\n", tok)
	}
}
