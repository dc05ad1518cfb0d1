package domain

import (
	"testing"

	perr "archiver/internal/platform/errors"
)

func TestParseVisitsShapes(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		today int64
		win   int64
	}{
		{"single", `{"nb_visits": 42, "nb_actions": 90}`, 42, 42},
		{"single string", `{"nb_visits": "17"}`, 17, 17},
		{"array", `[{"date":"2024-01-01","nb_visits":12}]`, 12, 12},
		{"array unordered", `[{"date":"2024-01-03","nb_visits":3},{"date":"2024-01-01","nb_visits":1},{"date":"2024-01-02","nb_visits":"2"}]`, 3, 6},
		{"keyed", `{"2024-01-02":{"nb_visits":5},"2024-01-01":{"nb_visits":4},"2024-01-03":[]}`, 0, 9},
		{"keyed last wins", `{"2024-01-01":{"nb_visits":4},"2024-01-02":{"nb_visits":"6"}}`, 6, 10},
		{"empty object", `{}`, 0, 0},
		{"empty array", `[]`, 0, 0},
		{"missing visits", `{"2024-01-01":{"nb_actions":3}}`, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := ParseVisits(tc.body)
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if v.Today != tc.today || v.Window != tc.win {
				t.Fatalf("got today=%d window=%d, want %d/%d", v.Today, v.Window, tc.today, tc.win)
			}
		})
	}
}

func TestParseVisitsInvalid(t *testing.T) {
	for _, body := range []string{
		"",
		"   ",
		"<html>Fatal error</html>",
		`{"result":"error","message":"boom"}`,
		`{"nb_visits": "lots"}`,
		`{"nb_visits": 4`,
		`{"nb_visits": 4} <html>fatal error</html>`,
		`[{"date":"2024-01-01","nb_visits":1}] {}`,
	} {
		_, err := ParseVisits(body)
		if err == nil {
			t.Fatalf("expected error for %q", body)
		}
		if !perr.IsCode(err, perr.ErrorCodeTransport) {
			t.Fatalf("expected transport code for %q, got %v", body, perr.CodeOf(err))
		}
	}
}

func TestParseVisitsErrorMessage(t *testing.T) {
	_, err := ParseVisits(`{"result":"error","message":"token invalid"}`)
	if err == nil || err.Error() == "" {
		t.Fatalf("expected error")
	}
	e, ok := perr.As(err)
	if !ok {
		t.Fatalf("expected perr")
	}
	if e.Code() != perr.ErrorCodeTransport {
		t.Fatalf("code %v", e.Code())
	}
}
