package errors

import (
	"context"
	stderrs "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestFromPostgresMapping(t *testing.T) {
	cases := []struct {
		state string
		want  ErrorCode
	}{
		{pgErrUniqueViolation, ErrorCodeInvalidArgument},
		{pgErrNotNullViolation, ErrorCodeValidation},
		{pgErrNumericOutOfRange, ErrorCodeValidation},
		{pgErrDeadlockDetected, ErrorCodeUnavailable},
		{pgErrLockNotAvailable, ErrorCodeUnavailable},
		{pgErrCannotConnectNow, ErrorCodeUnavailable},
		{pgErrUndefinedTable, ErrorCodeConfiguration},
		{"XX000", ErrorCodeDB},
	}
	for _, c := range cases {
		err := FromPostgres(&pgconn.PgError{Code: c.state}, "counter add")
		if got := CodeOf(err); got != c.want {
			t.Fatalf("FromPostgres(%s) code = %v, want %v", c.state, got, c.want)
		}
	}
	if FromPostgres(nil, "x") != nil {
		t.Fatal("FromPostgres(nil) should be nil")
	}
	if got := CodeOf(FromPostgres(stderrs.New("conn reset"), "x")); got != ErrorCodeDB {
		t.Fatalf("foreign error code = %v, want DB", got)
	}
	if got := CodeOf(FromPostgres(context.Canceled, "x")); got != ErrorCodeDB {
		t.Fatalf("canceled code = %v, want DB", got)
	}
}

func TestUndefinedTableHint(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "42P01"})
	if !IsUndefinedTable(err) {
		t.Fatal("IsUndefinedTable = false")
	}
	if msg := FromPostgres(err, "lease jobs").Error(); !strings.Contains(msg, "-migrate") {
		t.Fatalf("message %q lacks the migrate hint", msg)
	}
	if IsUndefinedTable(stderrs.New("relation does not exist")) {
		t.Fatal("text alone is not a PgError")
	}
}
