package upstream

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/smartfarm/internal/logger"
)

func TestGetAndPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Api-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/status":
			_, _ = w.Write([]byte(`{"ok":true}`))
		case r.Method == http.MethodPost && r.URL.Path == "/echo":
			if r.Header.Get("Content-Type") != "application/json" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"echo":"hi"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	u := New("test", srv.URL+"/", time.Second, nil).WithHeader("Api-Key", "secret")
	var st struct{ OK bool }
	if err := u.GetJSON(context.Background(), "/status", &st); err != nil || !st.OK {
		t.Fatalf("GetJSON: %v %+v", err, st)
	}
	var echo struct{ Echo string }
	if err := u.PostJSON(context.Background(), "echo", map[string]string{"msg": "hi"}, &echo); err != nil || echo.Echo != "hi" {
		t.Fatalf("PostJSON: %v %+v", err, echo)
	}

	err := u.GetJSON(context.Background(), "/missing", &st)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cb := NewBreaker("robot", 2, time.Minute, logger.Nop())
	u := New("robot", srv.URL, time.Second, cb)
	for i := 0; i < 2; i++ {
		if _, err := u.Do(context.Background(), http.MethodPost, "/api/homing", nil, ""); err == nil {
			t.Fatal("expected failure")
		}
	}
	_, err := u.Do(context.Background(), http.MethodPost, "/api/homing", nil, "")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("open breaker must not reach the server, calls=%d", calls)
	}
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	u := New("slow", srv.URL, 20*time.Millisecond, nil)
	if _, err := u.Do(context.Background(), http.MethodGet, "/", nil, ""); err == nil {
		t.Fatal("expected timeout")
	}
}

func TestOversizedBodyIsRejected(t *testing.T) {
	frame := bytes.Repeat([]byte{0xff}, 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(frame)
	}))
	defer srv.Close()

	u := New("robot", srv.URL, time.Second, nil).WithMaxBody(63)
	if _, err := u.Do(context.Background(), http.MethodGet, "/latest-image", nil, ""); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}

	u.WithMaxBody(64)
	got, err := u.Do(context.Background(), http.MethodGet, "/latest-image", nil, "")
	if err != nil {
		t.Fatalf("body at the limit: %v", err)
	}
	if !bytes.Equal(got, frame) {
		t.Fatalf("got %d bytes, want %d", len(got), len(frame))
	}
}
