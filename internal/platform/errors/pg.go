package errors

import (
	stderrs "errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE classes the archiver tables can produce
const (
	pgErrUniqueViolation     = "23505"
	pgErrNotNullViolation    = "23502"
	pgErrCheckViolation      = "23514"
	pgErrNumericOutOfRange   = "22003"
	pgErrSerializationFailed = "40001"
	pgErrDeadlockDetected    = "40P01"
	pgErrLockNotAvailable    = "55P03"
	pgErrReadOnlyTx          = "25006"
	pgErrCannotConnectNow    = "57P03"
	pgErrAdminShutdown       = "57P01"
	pgErrUndefinedTable      = "42P01"
)

func pgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if stderrs.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// IsUndefinedTable reports a missing relation, i.e. a schema that was never migrated
func IsUndefinedTable(err error) bool {
	pgErr, ok := pgError(err)
	return ok && pgErr.Code == pgErrUndefinedTable
}

// DBErrorCode maps a Postgres error to an ErrorCode; ok is false for
// errors that did not come from the server
func DBErrorCode(err error) (ErrorCode, bool) {
	pgErr, ok := pgError(err)
	if !ok {
		if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
			return ErrorCodeUnavailable, true
		}
		return ErrorCodeUnknown, false
	}
	switch pgErr.Code {
	case pgErrUndefinedTable:
		return ErrorCodeConfiguration, true
	case pgErrUniqueViolation:
		return ErrorCodeInvalidArgument, true
	case pgErrNotNullViolation, pgErrCheckViolation, pgErrNumericOutOfRange:
		return ErrorCodeValidation, true
	case pgErrSerializationFailed, pgErrDeadlockDetected, pgErrLockNotAvailable,
		pgErrReadOnlyTx, pgErrCannotConnectNow, pgErrAdminShutdown:
		return ErrorCodeUnavailable, true
	}
	return ErrorCodeDB, true
}

// FromPostgres wraps err with the mapped code and msg; nil stays nil.
// A missing table gets a hint to run the schema bootstrap
func FromPostgres(err error, msg string) error {
	if err == nil {
		return nil
	}
	code, ok := DBErrorCode(err)
	if !ok {
		code = ErrorCodeDB
	}
	if code == ErrorCodeConfiguration {
		msg += ": schema missing, run with -migrate"
	}
	return Wrap(err, code, msg)
}
