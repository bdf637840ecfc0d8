package session

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := New(Options{RatePerMinute: 100000})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestGetJSONDecodesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 42, "name": "test"}`))
	}))
	defer server.Close()

	s := newTestSession(t)
	defer s.Close()

	var out struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	if err := s.GetJSON(context.Background(), server.URL, nil, &out); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if out.ID != 42 || out.Name != "test" {
		t.Errorf("decoded %+v", out)
	}
}

func TestGetJSONReturnsStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone away", http.StatusGatewayTimeout)
	}))
	defer server.Close()

	s := newTestSession(t)
	defer s.Close()

	err := s.GetJSON(context.Background(), server.URL, nil, nil)
	if err == nil {
		t.Fatal("GetJSON() should fail on a 504")
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error %v should be a *StatusError", err)
	}
	if statusErr.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("StatusCode = %d, want 504", statusErr.StatusCode)
	}
	if !statusErr.Temporary() {
		t.Error("a 504 should be temporary")
	}
	if statusErr.Conflict() {
		t.Error("a 504 is not a conflict")
	}
}

func TestStatusErrorClassification(t *testing.T) {
	tests := []struct {
		code      int
		temporary bool
		conflict  bool
	}{
		{http.StatusTooManyRequests, true, false},
		{http.StatusServiceUnavailable, true, false},
		{http.StatusGatewayTimeout, true, false},
		{http.StatusConflict, false, true},
		{http.StatusNotFound, false, false},
		{http.StatusInternalServerError, false, false},
	}

	for _, tt := range tests {
		err := &StatusError{StatusCode: tt.code}
		if got := err.Temporary(); got != tt.temporary {
			t.Errorf("StatusError(%d).Temporary() = %v, want %v", tt.code, got, tt.temporary)
		}
		if got := err.Conflict(); got != tt.conflict {
			t.Errorf("StatusError(%d).Conflict() = %v, want %v", tt.code, got, tt.conflict)
		}
	}
}

func TestSharedCookiesAttachToEveryRequest(t *testing.T) {
	var gotCookie string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie("session_token"); err == nil {
			gotCookie = cookie.Value
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	s := newTestSession(t)
	defer s.Close()
	s.SetCookies([]*http.Cookie{{Name: "session_token", Value: "abc123"}})

	if err := s.GetJSON(context.Background(), server.URL, nil, nil); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if gotCookie != "abc123" {
		t.Errorf("server saw cookie %q, want abc123", gotCookie)
	}
}

func TestLimiterIsPerHost(t *testing.T) {
	s := newTestSession(t)
	defer s.Close()

	first := s.limiter("booru.example.com")
	again := s.limiter("booru.example.com")
	other := s.limiter("other.example.com")

	if first != again {
		t.Error("same host should reuse its limiter")
	}
	if first == other {
		t.Error("different hosts should get distinct limiters")
	}
}

func TestLimiterSpacesRequestsAcrossTheWindow(t *testing.T) {
	s, err := New(Options{RatePerMinute: 2})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	lim := s.limiter("booru.example.com")

	if got, want := lim.Limit(), rate.Every(30*time.Second); got != want {
		t.Errorf("limit = %v, want %v", got, want)
	}
	if lim.Burst() != 1 {
		t.Errorf("burst = %d, want 1", lim.Burst())
	}
	if !lim.Allow() {
		t.Error("first request should pass immediately")
	}
	if lim.Allow() {
		t.Error("second request should wait for the next slot")
	}
}

func TestDownloadWritesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("file contents"))
	}))
	defer server.Close()

	s := newTestSession(t)
	defer s.Close()

	var buf bytes.Buffer
	if err := s.Download(context.Background(), server.URL, &buf); err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if buf.String() != "file contents" {
		t.Errorf("downloaded %q", buf.String())
	}
}

func TestUserAgentDefault(t *testing.T) {
	var gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	s := newTestSession(t)
	defer s.Close()

	if err := s.GetJSON(context.Background(), server.URL, nil, nil); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if gotAgent != defaultUserAgent {
		t.Errorf("User-Agent = %q, want %q", gotAgent, defaultUserAgent)
	}
}
