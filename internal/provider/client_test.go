package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestInvoke(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"task_id":"pt-1"}`))
	}))
	defer srv.Close()

	c := NewClient(5 * time.Second)
	body, err := c.Invoke(context.Background(), srv.URL, []byte(`{}`), "secret")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if string(body) != `{"task_id":"pt-1"}` {
		t.Errorf("body: got %q", body)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization: got %q, want Bearer secret", gotAuth)
	}
}

func TestInvoke_QuotaExhaustedByStatus(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusPaymentRequired} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		c := NewClient(5 * time.Second)
		_, err := c.Invoke(context.Background(), srv.URL, nil, "k")
		srv.Close()
		if !errors.Is(err, ErrQuotaExhausted) {
			t.Errorf("status %d: expected ErrQuotaExhausted, got: %v", status, err)
		}
	}
}

// Some providers answer 200 with an in-band exhaustion code.
func TestInvoke_QuotaExhaustedInBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"code":"insufficient_quota"}}`))
	}))
	defer srv.Close()

	c := NewClient(5 * time.Second)
	_, err := c.Invoke(context.Background(), srv.URL, nil, "k")
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("expected ErrQuotaExhausted, got: %v", err)
	}
}

func TestInvoke_OtherErrorIsCallError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad params"}`))
	}))
	defer srv.Close()

	c := NewClient(5 * time.Second)
	_, err := c.Invoke(context.Background(), srv.URL, nil, "k")
	var ce *CallError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CallError, got: %v", err)
	}
	if ce.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", ce.StatusCode)
	}
	if errors.Is(err, ErrQuotaExhausted) {
		t.Error("a 400 must not classify as quota exhaustion")
	}
}

func TestFetchResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/results/pt-1" {
			t.Errorf("path: got %q, want /results/pt-1", r.URL.Path)
		}
		w.Write([]byte(`{"result":{"url":"https://cdn/x.png"}}`))
	}))
	defer srv.Close()

	c := NewClient(5 * time.Second)
	body, err := c.FetchResult(context.Background(), srv.URL+"/results", "pt-1", "k")
	if err != nil {
		t.Fatalf("FetchResult: %v", err)
	}
	if string(body) != `{"result":{"url":"https://cdn/x.png"}}` {
		t.Errorf("body: got %q", body)
	}
}
