package repository

import (
	"database/sql"
	"errors"
	"time"
)

// HandleNotFound processes a database query result, converting sql.ErrNoRows
// to a nil result without error. This is a common pattern for Find* operations
// where a missing row is not an error condition.
//
// Usage:
//
//	var item model.Item
//	err := r.db.GetContext(ctx, &item, query, args...)
//	return HandleNotFound(&item, err)
func HandleNotFound[T any](result *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// scope returns the predicate selecting a session namespace, or the solo namespace when code is nil.
func scope(column string, code *string) (string, []any) {
	if code == nil {
		return column + " IS NULL", nil
	}
	return column + " = ?", []any{*code}
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func now() time.Time {
	return time.Now().UTC()
}
