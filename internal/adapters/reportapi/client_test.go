package reportapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	perr "archiver/internal/platform/errors"
)

func TestFetchSendsQueryAndToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method %s", r.Method)
		}
		if got := r.URL.Query().Get("idSite"); got != "5" {
			t.Errorf("idSite %q", got)
		}
		if got := r.URL.Query().Get("period"); got != "day" {
			t.Errorf("period %q", got)
		}
		_ = r.ParseForm()
		if got := r.PostForm.Get("token_auth"); got != "secret" {
			t.Errorf("token %q", got)
		}
		_, _ = w.Write([]byte(`{"nb_visits":12}`))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL + "/index.php", Token: "secret"})
	body, err := c.Fetch(context.Background(), "idSite=5&period=day&date=last2")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if body != `{"nb_visits":12}` {
		t.Fatalf("body %q", body)
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, MaxRetries: 3, RetryBase: time.Millisecond})
	body, err := c.Fetch(context.Background(), "idSite=1&period=week&date=last2")
	if err != nil || body != "[]" {
		t.Fatalf("got %q %v", body, err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls %d", calls.Load())
	}
}

func TestFetchClientErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, MaxRetries: -1})
	_, err := c.Fetch(context.Background(), "idSite=1&period=day&date=last2")
	if !perr.IsCode(err, perr.ErrorCodeTransport) {
		t.Fatalf("want transport error, got %v", err)
	}
}
