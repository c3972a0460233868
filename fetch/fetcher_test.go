package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func allowAll(string) error { return nil }

func TestGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Probe", "yes")
		w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{URLValidator: allowAll})
	res, err := f.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.StatusCode != 200 {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if !strings.Contains(string(res.Body), "hello") {
		t.Fatalf("body = %q", res.Body)
	}
	if res.Header.Get("X-Probe") != "yes" {
		t.Fatal("missing response header")
	}
	if res.Hash == "" {
		t.Fatal("missing body hash")
	}
}

func TestGetErrorStatusKeepsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "nginx/1.2")
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{URLValidator: allowAll})
	res, err := f.Get(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if res == nil || res.StatusCode != 404 {
		t.Fatalf("res = %+v", res)
	}
	if res.Header.Get("Server") != "nginx/1.2" {
		t.Fatal("headers not preserved on error status")
	}
}

func TestGetBlockedURL(t *testing.T) {
	f := New(Config{}) // default validator blocks loopback
	if _, err := f.Get(context.Background(), "http://127.0.0.1:1/"); err == nil {
		t.Fatal("expected SSRF block")
	}
}

func TestGetBodyCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 4096))
	}))
	defer srv.Close()

	f := New(Config{URLValidator: allowAll, MaxBytes: 100})
	res, err := f.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(res.Body) != 100 {
		t.Fatalf("body len = %d, want 100", len(res.Body))
	}
}
