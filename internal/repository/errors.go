package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// DatabaseError reports a failed database operation.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	var pgErr *pgconn.PgError
	if errors.As(e.Err, &pgErr) {
		return fmt.Sprintf("database %s failed: %s (SQLSTATE %s)", e.Op, pgErr.Message, pgErr.Code)
	}
	return fmt.Sprintf("database %s failed: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

func dbError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DatabaseError{Op: op, Err: err}
}
