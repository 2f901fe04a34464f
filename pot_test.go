package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func shortenRetryWait(t *testing.T) {
	t.Helper()
	old := potFetchRetryWait
	potFetchRetryWait = 10 * time.Millisecond
	t.Cleanup(func() { potFetchRetryWait = old })
}

func TestPotCacheSetGet(t *testing.T) {
	c := newPotCache(time.Minute)
	c.set(potScopeWeb, "tok-1")

	got, ok := c.get(potScopeWeb)
	if !ok || got != "tok-1" {
		t.Fatalf("get = (%q, %v), want (tok-1, true)", got, ok)
	}
	if _, ok := c.get("android"); ok {
		t.Error("unknown scope should miss")
	}
}

func TestPotCacheExpiryEvictsOnRead(t *testing.T) {
	c := newPotCache(30 * time.Millisecond)
	c.set(potScopeWeb, "tok-1")

	time.Sleep(60 * time.Millisecond)

	if _, ok := c.get(potScopeWeb); ok {
		t.Fatal("expired entry should miss")
	}
	c.mu.Lock()
	_, present := c.entries[potScopeWeb]
	c.mu.Unlock()
	if present {
		t.Error("expired entry should be evicted on read")
	}
}

func TestPotCacheReadDoesNotExtendTTL(t *testing.T) {
	c := newPotCache(80 * time.Millisecond)
	c.set(potScopeWeb, "tok-1")

	time.Sleep(50 * time.Millisecond)
	if _, ok := c.get(potScopeWeb); !ok {
		t.Fatal("entry should still be live before its TTL")
	}

	time.Sleep(50 * time.Millisecond)
	if _, ok := c.get(potScopeWeb); ok {
		t.Error("a read must not extend the entry's lifetime")
	}
}

func TestPotCacheSetRefreshesTTL(t *testing.T) {
	c := newPotCache(80 * time.Millisecond)
	c.set(potScopeWeb, "tok-1")

	time.Sleep(50 * time.Millisecond)
	c.set(potScopeWeb, "tok-2")

	time.Sleep(50 * time.Millisecond)
	got, ok := c.get(potScopeWeb)
	if !ok || got != "tok-2" {
		t.Errorf("rewritten entry should carry a fresh TTL, got (%q, %v)", got, ok)
	}
}

func TestFetchPoTokenNotReadyThenSuccess(t *testing.T) {
	shortenRetryWait(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html><body>warming up</body></html>"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"poToken":"abc123","expiresAt":"2026-09-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	token, ok := fetchPoToken(context.Background(), srv.URL, "")
	if !ok || token != "abc123" {
		t.Fatalf("fetchPoToken = (%q, %v), want (abc123, true)", token, ok)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("provider called %d times, want 3", n)
	}
}

func TestFetchPoTokenRejectionStopsRetrying(t *testing.T) {
	shortenRetryWait(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":"content binding unsupported"}`))
	}))
	defer srv.Close()

	token, ok := fetchPoToken(context.Background(), srv.URL, "binding")
	if ok || token != "" {
		t.Fatalf("fetchPoToken = (%q, %v), want rejection", token, ok)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("provider called %d times after explicit rejection, want 1", n)
	}
}

func TestFetchPoTokenSnakeCaseField(t *testing.T) {
	shortenRetryWait(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"po_token":"xyz789"}`))
	}))
	defer srv.Close()

	token, ok := fetchPoToken(context.Background(), srv.URL, "")
	if !ok || token != "xyz789" {
		t.Errorf("fetchPoToken = (%q, %v), want (xyz789, true)", token, ok)
	}
}

func TestFetchPoTokenGivesUpAfterRetries(t *testing.T) {
	shortenRetryWait(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("<html>still warming up</html>"))
	}))
	defer srv.Close()

	token, ok := fetchPoToken(context.Background(), srv.URL, "")
	if ok || token != "" {
		t.Fatalf("fetchPoToken = (%q, %v), want failure", token, ok)
	}
	if n := calls.Load(); n != int32(potFetchRetries) {
		t.Errorf("provider called %d times, want %d", n, potFetchRetries)
	}
}

func TestFetchPoTokenTransportErrorRetried(t *testing.T) {
	shortenRetryWait(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	token, ok := fetchPoToken(context.Background(), url, "")
	if ok || token != "" {
		t.Errorf("fetchPoToken against a dead provider = (%q, %v), want failure", token, ok)
	}
}

func TestFetchPoTokenHonorsContextCancel(t *testing.T) {
	shortenRetryWait(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not ready</html>"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := fetchPoToken(ctx, srv.URL, ""); ok {
		t.Error("canceled context should not produce a token")
	}
}

func TestRequestPoTokenSendsContentBinding(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/get_pot" {
			t.Errorf("path = %q, want /get_pot", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		gotBody = buf[:n]
		_, _ = w.Write([]byte(`{"poToken":"tok"}`))
	}))
	defer srv.Close()

	if _, _, err := requestPoToken(context.Background(), srv.URL, "video-id"); err != nil {
		t.Fatal(err)
	}
	if string(gotBody) != `{"content_binding":"video-id"}` {
		t.Errorf("request body = %s", gotBody)
	}
}

func TestPotExtractorArg(t *testing.T) {
	if got := potExtractorArg("abc123"); got != "youtube:po_token=web+abc123" {
		t.Errorf("potExtractorArg = %q", got)
	}
}
