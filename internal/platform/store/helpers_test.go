package store

import (
	"context"
	"errors"
	"testing"

	perr "archiver/internal/platform/errors"
)

// fakeRows walks a fixed table of int64 rows
type fakeRows struct {
	data [][]int64
	i    int
	err  error
}

func (r *fakeRows) Next() bool {
	if r.i >= len(r.data) {
		return false
	}
	r.i++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.i-1]
	for k := range dest {
		*(dest[k].(*int64)) = row[k]
	}
	return nil
}

func (r *fakeRows) Err() error        { return r.err }
func (r *fakeRows) Close()            {}
func (r *fakeRows) Columns() []string { return []string{"v"} }

type fakeTag int64

func (t fakeTag) String() string      { return "UPDATE" }
func (t fakeTag) RowsAffected() int64 { return int64(t) }

type fakeQ struct {
	rows     [][]int64
	affected int64
	err      error
}

func (f *fakeQ) Exec(context.Context, string, ...any) (CommandTag, error) {
	return fakeTag(f.affected), f.err
}

func (f *fakeQ) Query(context.Context, string, ...any) (Rows, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &fakeRows{data: f.rows}, nil
}

func (f *fakeQ) QueryRow(ctx context.Context, sql string, args ...any) Row {
	rs, _ := f.Query(ctx, sql, args...)
	if rs == nil || !rs.Next() {
		return errRow{}
	}
	return rs
}

type errRow struct{}

func (errRow) Scan(...any) error { return errors.New("no rows") }

func scanInt(r Row) (int64, error) {
	var v int64
	err := r.Scan(&v)
	return v, err
}

func TestExecOne(t *testing.T) {
	ctx := context.Background()
	if err := ExecOne(ctx, &fakeQ{affected: 1}, "UPDATE x"); err != nil {
		t.Fatalf("ExecOne(1) err = %v", err)
	}
	if err := ExecOne(ctx, &fakeQ{affected: 0}, "UPDATE x"); err == nil {
		t.Fatal("ExecOne(0) should fail")
	}
}

func TestScalarOneMany(t *testing.T) {
	ctx := context.Background()
	q := &fakeQ{rows: [][]int64{{7}, {8}}}

	v, err := Scalar[int64](ctx, q, "SELECT")
	if err != nil || v != 7 {
		t.Fatalf("Scalar = %d, %v", v, err)
	}

	all, err := Many(ctx, q, scanInt, "SELECT")
	if err != nil || len(all) != 2 || all[1] != 8 {
		t.Fatalf("Many = %v, %v", all, err)
	}

	if _, err := One(ctx, q, scanInt, "SELECT"); err == nil {
		t.Fatal("One with two rows should fail")
	}
	if _, err := One(ctx, &fakeQ{}, scanInt, "SELECT"); !errors.Is(err, perr.ErrNotFound) {
		t.Fatalf("One with no rows err = %v, want ErrNotFound", err)
	}
	got, err := One(ctx, &fakeQ{rows: [][]int64{{3}}}, scanInt, "SELECT")
	if err != nil || got != 3 {
		t.Fatalf("One = %d, %v", got, err)
	}
}
