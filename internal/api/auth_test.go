package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestValidateToken(t *testing.T) {
	cases := []struct {
		name   string
		header string
		target string
		token  string
		want   bool
	}{
		{name: "disabled", target: "/", token: "", want: true},
		{name: "bearer", header: "Bearer secret", target: "/", token: "secret", want: true},
		{name: "wrong bearer", header: "Bearer nope", target: "/", token: "secret", want: false},
		{name: "query", target: "/?token=secret", token: "secret", want: true},
		{name: "missing", target: "/", token: "secret", want: false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.target, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		if got := validateToken(req, tc.token); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestIsOriginAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://localhost:7420/api/events", nil)
	if !isOriginAllowed(req, nil) {
		t.Fatal("expected request without origin to be allowed")
	}

	req.Header.Set("Origin", "http://localhost:3000")
	if !isOriginAllowed(req, nil) {
		t.Fatal("expected same host origin to be allowed")
	}

	req.Header.Set("Origin", "http://evil.example")
	if isOriginAllowed(req, nil) {
		t.Fatal("expected foreign origin to be rejected")
	}
	if !isOriginAllowed(req, []string{"evil.example"}) {
		t.Fatal("expected allow-listed origin to be accepted")
	}
}

func TestHostOnly(t *testing.T) {
	cases := map[string]string{
		"localhost:7420": "localhost",
		"[::1]:7420":     "::1",
		"example.com":    "example.com",
	}
	for input, want := range cases {
		if got := hostOnly(input); got != want {
			t.Fatalf("%s: expected %s, got %s", input, want, got)
		}
	}
}

func TestRestHandlerSetsSecurityHeaders(t *testing.T) {
	handler := restHandler("", func(w http.ResponseWriter, r *http.Request) *apiError {
		return &apiError{Status: http.StatusTeapot, Message: "short and stout"}
	})
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rec.Code)
	}
	if rec.Header().Get("Cache-Control") == "" {
		t.Fatal("expected cache control header")
	}
	if rec.Header().Get("Content-Type") != "application/json; charset=utf-8" {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
}
