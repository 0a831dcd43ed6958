package storage

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/lib/pq"
	"github.com/linemk/shop-orders/internal/domain/models"
	"github.com/pkg/errors"
)

// Transactor задаёт границу транзакции: все записи внутри fn либо применяются вместе, либо не применяются совсем.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

type sqlTransactor struct {
	log *slog.Logger
	db  *sql.DB
}

// NewTransactor создаёт Transactor поверх пула подключений к PostgreSQL
func NewTransactor(log *slog.Logger, db *sql.DB) Transactor {
	return &sqlTransactor{log: log, db: db}
}

// WithinTx открывает транзакцию, выполняет fn и коммитит её.
// Если fn вернула ошибку или запаниковала, транзакция откатывается.
func (t *sqlTransactor) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	const op = "storage.Transactor.WithinTx"

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				t.log.Error("transaction rollback failed", slog.String("op", op), slog.Any("error", rbErr))
			}
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			t.log.Error("transaction rollback failed", slog.String("op", op), slog.Any("error", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("commit transaction", err)
	}
	return nil
}

// wrapErr превращает ошибку драйвера в StorageError.
// Для ошибок PostgreSQL к причине добавляется имя кода ошибки.
func wrapErr(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "55P03": // lock_not_available
			err = errors.Wrap(err, "resource is locked, please try again")
		case "40P01": // deadlock_detected
			err = errors.Wrap(err, "deadlock detected, please try again")
		default:
			err = errors.Wrap(err, pqErr.Code.Name())
		}
	} else {
		err = errors.WithStack(err)
	}
	return &models.StorageError{Op: op, Err: err}
}

func notFound(entity string, id int64) error {
	return models.NewNotFoundError(entity, id)
}
