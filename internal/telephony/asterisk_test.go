package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *AsteriskClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAsteriskClient(srv.URL, "ari", "secret", time.Second)
}

func TestElapsedSeconds(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if user, pass, ok := r.BasicAuth(); !ok || user != "ari" || pass != "secret" {
			t.Error("missing or wrong basic auth")
		}
		if got := r.URL.Path; got != "/ari/channels/chan-1/variable" {
			t.Errorf("path = %s", got)
		}
		w.Write([]byte(`{"value":"95"}`))
	})

	secs, err := c.ElapsedSeconds(context.Background(), "chan-1")
	if err != nil {
		t.Fatalf("elapsed: %v", err)
	}
	if secs != 95 {
		t.Fatalf("secs = %d, want 95", secs)
	}
}

func TestElapsedSecondsBadValue(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":"not-a-number"}`))
	})

	if _, err := c.ElapsedSeconds(context.Background(), "chan-1"); err == nil {
		t.Fatal("expected error for non-numeric billsec")
	}
}

func TestElapsedSecondsNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	if _, err := c.ElapsedSeconds(context.Background(), "gone"); !errors.Is(err, ErrCallNotFound) {
		t.Fatalf("err = %v, want ErrCallNotFound", err)
	}
}

func TestElapsedSecondsServerErrorIsUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	if _, err := c.ElapsedSeconds(context.Background(), "chan-1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestTerminate(t *testing.T) {
	var gotMethod, gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.Terminate(context.Background(), "chan-1"); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/ari/channels/chan-1" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
}

func TestTerminateGoneChannelIsSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	if err := c.Terminate(context.Background(), "chan-1"); err != nil {
		t.Fatalf("terminate of gone channel: %v", err)
	}
}
