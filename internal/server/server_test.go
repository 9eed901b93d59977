package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/dyndns/internal/controller"
	"github.com/yuriy-kovalchuk/dyndns/internal/dns"
	"github.com/yuriy-kovalchuk/dyndns/internal/dns/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// recordingReconciler captures the request and returns a canned result.
type recordingReconciler struct {
	mu     sync.Mutex
	got    []controller.UpdateRequest
	result controller.Result
}

func (r *recordingReconciler) Reconcile(_ context.Context, req controller.UpdateRequest) controller.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, req)
	return r.result
}

func serve(t *testing.T, s *Server, req *http.Request) (*httptest.ResponseRecorder, updateResponse) {
	t.Helper()
	h, err := s.Handler()
	if err != nil {
		t.Fatalf("Handler() error: %v", err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body updateResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return rec, body
}

func TestUpdate_QueryBinding(t *testing.T) {
	rr := &recordingReconciler{result: controller.Result{Status: controller.StatusOK}}
	s := New(rr, logr.Discard(), ":0", nil)

	req := httptest.NewRequest(http.MethodGet, "/?token=t0k&subdomain=home&a=10.0.0.1&aaaa=&txt=hi&clear=true", nil)
	req.RemoteAddr = "192.0.2.10:51000"
	serve(t, s, req)

	if len(rr.got) != 1 {
		t.Fatalf("expected 1 reconcile, got %d", len(rr.got))
	}
	got := rr.got[0]
	if got.Token == nil || *got.Token != "t0k" {
		t.Errorf("expected token 't0k', got %v", got.Token)
	}
	if got.Subdomain == nil || *got.Subdomain != "home" {
		t.Errorf("expected subdomain 'home', got %v", got.Subdomain)
	}
	if got.A == nil || *got.A != "10.0.0.1" {
		t.Errorf("expected a '10.0.0.1', got %v", got.A)
	}
	if got.AAAA != nil {
		t.Errorf("expected empty aaaa to be treated as absent, got %q", *got.AAAA)
	}
	if got.TXT == nil || *got.TXT != "hi" {
		t.Errorf("expected txt 'hi', got %v", got.TXT)
	}
	if !got.Clear {
		t.Error("expected clear=true")
	}
	if got.ObservedAddr != netip.MustParseAddr("192.0.2.10") {
		t.Errorf("expected observed address 192.0.2.10, got %s", got.ObservedAddr)
	}
}

func TestUpdate_ForwardedFor(t *testing.T) {
	rr := &recordingReconciler{result: controller.Result{Status: controller.StatusOK}}
	s := New(rr, logr.Discard(), ":0", []string{"192.0.2.0/24"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:51000"
	req.Header.Set("X-Forwarded-For", "2001:db8::7")
	serve(t, s, req)

	if got := rr.got[0].ObservedAddr; got != netip.MustParseAddr("2001:db8::7") {
		t.Errorf("expected forwarded address 2001:db8::7, got %s", got)
	}
	if rr.got[0].Clear {
		t.Error("expected clear to default to false")
	}
}

func TestUpdate_UntrustedProxyIgnored(t *testing.T) {
	rr := &recordingReconciler{result: controller.Result{Status: controller.StatusOK}}
	s := New(rr, logr.Discard(), ":0", []string{"10.0.0.0/8"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:51000"
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	serve(t, s, req)

	if got := rr.got[0].ObservedAddr; got != netip.MustParseAddr("192.0.2.10") {
		t.Errorf("expected peer address 192.0.2.10, got %s", got)
	}
}

func TestUpdate_StatusMapping(t *testing.T) {
	tests := []struct {
		name        string
		result      controller.Result
		wantCode    int
		wantMessage string
	}{
		{
			name: "ok",
			result: controller.Result{
				Status:  controller.StatusOK,
				Domain:  "home.example.com",
				Records: []dns.Record{{Type: dns.TypeA, Content: "10.0.0.1"}},
			},
			wantCode:    http.StatusOK,
			wantMessage: "OK",
		},
		{
			name:        "unauthorized",
			result:      controller.Result{Status: controller.StatusUnauthorized, Err: controller.ErrUnauthorized},
			wantCode:    http.StatusUnauthorized,
			wantMessage: "Unauthorized: Invalid token",
		},
		{
			name: "provider error hides cause",
			result: controller.Result{
				Status: controller.StatusProviderError,
				Domain: "home.example.com",
				Err:    &dns.ProviderError{Op: "create", StatusCode: 400, Message: "Invalid API key."},
			},
			wantCode:    http.StatusInternalServerError,
			wantMessage: "Internal Server Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(&recordingReconciler{result: tt.result}, logr.Discard(), ":0", nil)

			rec, body := serve(t, s, httptest.NewRequest(http.MethodGet, "/", nil))
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if body.Message != tt.wantMessage {
				t.Errorf("message = %q, want %q", body.Message, tt.wantMessage)
			}
			if body.Domain != tt.result.Domain {
				t.Errorf("domain = %q, want %q", body.Domain, tt.result.Domain)
			}
			if body.Records == nil {
				t.Error("records must be serialised as an array, not null")
			}
		})
	}
}

func TestUpdate_InvalidClear(t *testing.T) {
	p := memory.New(logr.Discard(), "example.com")
	r := &controller.UpdateReconciler{DNS: p, Log: logr.Discard(), Domain: "example.com", Token: "secret"}
	s := New(r, logr.Discard(), ":0", nil)

	tests := []struct {
		query string
		want  int
	}{
		{"/?token=wrong&clear=maybe", http.StatusUnauthorized},
		{"/?clear=maybe", http.StatusUnauthorized},
		{"/?token=secret&clear=maybe", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.query, nil)
			req.RemoteAddr = "203.0.113.7:40000"
			rec, _ := serve(t, s, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d; body = %s", rec.Code, tt.want, rec.Body.String())
			}
			if p.Len() != 0 {
				t.Errorf("expected no records at the provider, got %d", p.Len())
			}
		})
	}
}

func TestUpdate_ClearParsing(t *testing.T) {
	rr := &recordingReconciler{result: controller.Result{Status: controller.StatusOK}}
	s := New(rr, logr.Discard(), ":0", nil)

	for _, q := range []string{"/?clear=1", "/?clear=TRUE", "/?clear=0", "/?clear="} {
		serve(t, s, httptest.NewRequest(http.MethodGet, q, nil))
	}
	want := []bool{true, true, false, false}
	if len(rr.got) != len(want) {
		t.Fatalf("expected %d requests, got %d", len(want), len(rr.got))
	}
	for i, w := range want {
		if rr.got[i].Clear != w || rr.got[i].ParamErr != nil {
			t.Errorf("request %d: clear = %v, err = %v; want clear = %v", i, rr.got[i].Clear, rr.got[i].ParamErr, w)
		}
	}
}

func TestUpdate_EndToEndWithMemoryProvider(t *testing.T) {
	p := memory.New(logr.Discard(), "example.com")
	r := &controller.UpdateReconciler{DNS: p, Log: logr.Discard(), Domain: "ddns.example.com", Token: "secret"}
	s := New(r, logr.Discard(), ":0", nil)

	req := httptest.NewRequest(http.MethodGet, "/?token=secret&subdomain=home&txt=hello", nil)
	req.RemoteAddr = "203.0.113.7:40000"
	rec, body := serve(t, s, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if body.Domain != "home.ddns.example.com" {
		t.Errorf("domain = %q, want 'home.ddns.example.com'", body.Domain)
	}
	want := []recordResponse{{Type: "TXT", Content: "hello"}, {Type: "A", Content: "203.0.113.7"}}
	if len(body.Records) != len(want) {
		t.Fatalf("records = %+v, want %+v", body.Records, want)
	}
	for i := range want {
		if body.Records[i] != want[i] {
			t.Errorf("record %d = %+v, want %+v", i, body.Records[i], want[i])
		}
	}
	if p.Len() != 2 {
		t.Errorf("expected 2 records at the provider, got %d", p.Len())
	}

	// Wrong token.
	req = httptest.NewRequest(http.MethodGet, "/?token=wrong&subdomain=home", nil)
	rec, body = serve(t, s, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if body.Domain != "" || len(body.Records) != 0 {
		t.Errorf("expected empty domain and records, got %+v", body)
	}
}

func TestHealthEndpoints(t *testing.T) {
	s := New(&recordingReconciler{}, logr.Discard(), ":0", nil)
	h, err := s.Handler()
	if err != nil {
		t.Fatalf("Handler() error: %v", err)
	}

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s: status = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
}
