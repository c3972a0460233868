package safeurl_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/probelab/scrutiny/safeurl"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		url     string
		wantErr error
	}{
		{"loopback ip", "http://127.0.0.1/", safeurl.ErrSSRF},
		{"private ip", "http://192.168.1.10/admin", safeurl.ErrSSRF},
		{"link local", "http://169.254.169.254/latest/meta-data", safeurl.ErrSSRF},
		{"ipv6 loopback", "http://[::1]:8080/", safeurl.ErrSSRF},
		{"file scheme", "file:///etc/passwd", safeurl.ErrUnsafeScheme},
		{"gopher scheme", "gopher://example.com/", safeurl.ErrUnsafeScheme},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := safeurl.Validate(tc.url)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestValidateNoHost(t *testing.T) {
	if err := safeurl.Validate("http:///path-only"); err == nil {
		t.Fatal("expected error for URL without host")
	}
}

func TestLimitedReadAll(t *testing.T) {
	data, err := safeurl.LimitedReadAll(strings.NewReader("hello"), 10)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Fatalf("got %q, want hello", data)
	}

	_, err = safeurl.LimitedReadAll(strings.NewReader("hello world"), 5)
	if !errors.Is(err, safeurl.ErrBodyTooLarge) {
		t.Fatalf("got %v, want ErrBodyTooLarge", err)
	}
}
