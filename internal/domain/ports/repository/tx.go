package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager runs fn inside a storage transaction and hands the
// transaction handle to fn as tx.
//
// Repositories accepting a Tx detect the concrete handle (pgx.Tx for
// Postgres) and run tx-bound statements such as SELECT ... FOR UPDATE.
// A nil tx means the non-transactional path.
//
// tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx Tx) error {
// acc, err := accounts.FindByIDForUpdate(ctx, tx, id)
// ...
// return entries.Append(ctx, tx, entry)
// })
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
