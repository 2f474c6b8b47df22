package repository

import (
	"database/sql"
	"errors"

	"github.com/meetai/meeting-server-go/internal/database"
	"github.com/meetai/meeting-server-go/internal/model"
)

// ErrTransitionRejected is returned when a guarded update matched no row:
// either the row is missing or its current status is outside the guard.
var ErrTransitionRejected = errors.New("transition rejected")

type dbtx = database.DBTX

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

// handleGuarded converts sql.ErrNoRows from a guarded UPDATE ... RETURNING
// into ErrTransitionRejected.
func handleGuarded[T any](result *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransitionRejected
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func statusStrings(statuses []model.MeetingStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
