// Package sqlxrepos implements the repositories on PostgreSQL with sqlx.
package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/learnplus/learnplus/core"
)

// postgres error codes
const (
	foreignKeyViolation = "23503"
	uniqueViolation     = "23505"
)

// executor is implemented by both *sqlx.DB and *sqlx.Tx.
type executor interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// session runs queries on the DB, or on the transaction it was started from.
type session struct {
	db *sqlx.DB
	tx *sqlx.Tx
}

func (s session) exec() executor {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// atomic runs fn in a READ COMMITTED transaction, or in the current one if any.
func (s session) atomic(ctx context.Context, fn func(tx session) error) (err error) {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(session{db: s.db, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrapf(err, "rolling back: %v", rbErr)
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		// deferred constraints are checked on commit
		if isConstraintViolation(err, uniqueViolation, chapterPositionKey) {
			return errChapterPositionTaken
		}
		return errors.Wrap(err, "committing transaction")
	}
	return nil
}

// isConstraintViolation reports whether err is a `code` violation of the given constraint (any if empty).
func isConstraintViolation(err error, code pq.ErrorCode, constraint string) bool {
	pqErr, ok := errors.Cause(err).(*pq.Error)
	return ok && pqErr.Code == code && (constraint == "" || pqErr.Constraint == constraint)
}

// trapNoRowsErr maps sql.ErrNoRows to notFound.
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func checkRowsAffected(res sql.Result, notFound error, msg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, msg)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// uuids drops the values that are not valid UUIDs: they cannot match any row.
func uuids(ids []string) pq.StringArray {
	valid := make(pq.StringArray, 0, len(ids))
	for _, id := range ids {
		if isUUID(id) {
			valid = append(valid, id)
		}
	}
	return valid
}

// orderBy builds an ORDER BY clause out of the allowed fields ({field: column}).
func orderBy(ordering []core.DBOrdering, columns map[string]string, dflt string) string {
	clauses := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		col, ok := columns[ord.Field]
		if !ok {
			continue
		}
		clauses = append(clauses, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
	}
	if len(clauses) == 0 {
		return " ORDER BY " + dflt
	}
	return " ORDER BY " + strings.Join(clauses, ", ")
}
