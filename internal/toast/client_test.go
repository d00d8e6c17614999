package toast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/restolabs/possync/internal/ratelimit"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	limiter := ratelimit.NewSlidingWindow(1000, time.Hour)
	return NewClient(baseURL, limiter,
		WithPageSize(2),
		WithPageDelay(time.Millisecond),
		WithRetries(3, time.Millisecond),
	)
}

func TestAuthenticate_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != loginPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode login body: %v", err)
		}
		if req.ClientID != "cid" || req.ClientSecret != "csecret" {
			t.Errorf("unexpected credentials: %+v", req)
		}
		if req.UserAccessType != machineAccessType {
			t.Errorf("expected access type %s, got %s", machineAccessType, req.UserAccessType)
		}
		fmt.Fprint(w, `{"token":{"tokenType":"Bearer","accessToken":"tok-123","expiresIn":3600}}`)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	token, err := client.Authenticate(context.Background(), Credentials{ClientID: "cid", ClientSecret: "csecret"})
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if token != "tok-123" {
		t.Errorf("expected token tok-123, got %s", token)
	}
}

func TestAuthenticate_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	_, err := client.Authenticate(context.Background(), Credentials{ClientID: "cid", ClientSecret: "bad"})
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestFetchWindow_PaginatesUntilShortPage(t *testing.T) {
	// Page size 2: serve 2 + 2 + 1 orders across three pages.
	var pagesServed []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("unexpected auth header %q", got)
		}
		if got := r.Header.Get(restaurantHeader); got != "loc-1" {
			t.Errorf("unexpected restaurant header %q", got)
		}
		page := r.URL.Query().Get("page")
		pagesServed = append(pagesServed, page)
		switch page {
		case "1":
			fmt.Fprint(w, `[{"guid":"o1"},{"guid":"o2"}]`)
		case "2":
			fmt.Fprint(w, `[{"guid":"o3"},{"guid":"o4"}]`)
		case "3":
			fmt.Fprint(w, `[{"guid":"o5"}]`)
		default:
			t.Errorf("unexpected page %s", page)
			fmt.Fprint(w, `[]`)
		}
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	start := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	orders, err := client.FetchWindow(context.Background(), "tok-123", "loc-1", start, start.AddDate(0, 0, 30))
	if err != nil {
		t.Fatalf("FetchWindow failed: %v", err)
	}
	if len(orders) != 5 {
		t.Fatalf("expected 5 orders, got %d", len(orders))
	}
	if len(pagesServed) != 3 {
		t.Errorf("expected 3 page fetches, got %v", pagesServed)
	}
	if orders[4].GUID != "o5" {
		t.Errorf("orders out of sequence: %+v", orders)
	}
}

func TestFetchWindow_EmptyWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	orders, err := client.FetchWindow(context.Background(), "tok", "loc-1", time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("FetchWindow failed: %v", err)
	}
	if len(orders) != 0 {
		t.Errorf("expected no orders, got %d", len(orders))
	}
}

func TestDoWithRetry_TransientThenSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `[{"guid":"o1"}]`)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	orders, err := client.FetchWindow(context.Background(), "tok", "loc-1", time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("expected success after transient retries, got %v", err)
	}
	if len(orders) != 1 {
		t.Errorf("expected 1 order, got %d", len(orders))
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestDoWithRetry_TransientExhaustion(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	_, err := client.FetchWindow(context.Background(), "tok", "loc-1", time.Now().Add(-time.Hour), time.Now())
	if err == nil {
		t.Fatal("expected error after retry exhaustion")
	}
	if errors.Is(err, ErrAuthenticationFailed) || errors.Is(err, ErrInvalidRequest) {
		t.Errorf("transient exhaustion must stay retryable, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", got)
	}
}

func TestDoWithRetry_NonRetryable4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	_, err := client.FetchWindow(context.Background(), "tok", "loc-1", time.Now().Add(-time.Hour), time.Now())
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("4xx must not be retried, got %d attempts", got)
	}
}

func TestDoWithRetry_429IsRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	if _, err := client.FetchWindow(context.Background(), "tok", "loc-1", time.Now().Add(-time.Hour), time.Now()); err != nil {
		t.Fatalf("expected 429 to be retried, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}
