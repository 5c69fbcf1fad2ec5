package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/deskbridge/hostd/internal/session"
	"github.com/deskbridge/hostd/internal/tracker"
)

type fakeController struct {
	accepted []int
	rejected []int
	jumped   []int
	err      error
}

func (f *fakeController) Accept(_ context.Context, id int) error {
	f.accepted = append(f.accepted, id)
	return f.err
}

func (f *fakeController) Reject(_ context.Context, id int) error {
	f.rejected = append(f.rejected, id)
	return f.err
}

func (f *fakeController) JumpTo(_ context.Context, id int) error {
	f.jumped = append(f.jumped, id)
	return f.err
}

func newTestServer(ctrl Controller, origins []string, token string) *Server {
	b := newTestBroadcaster(Redactor{}, time.Hour, 0)
	return NewServer(b, ctrl, origins, token, zap.NewNop())
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		setup   func(r *http.Request)
		allowed bool
	}{
		{"no token configured", "", func(r *http.Request) {}, true},
		{"missing credentials", "secret", func(r *http.Request) {}, false},
		{"query token", "secret", func(r *http.Request) {
			q := r.URL.Query()
			q.Set("token", "secret")
			r.URL.RawQuery = q.Encode()
		}, true},
		{"header token", "secret", func(r *http.Request) {
			r.Header.Set("X-Hostd-Token", "secret")
		}, true},
		{"bearer token", "secret", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer secret")
		}, true},
		{"wrong token", "secret", func(r *http.Request) {
			r.Header.Set("X-Hostd-Token", "nope")
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&fakeController{}, nil, tt.token)
			req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
			tt.setup(req)
			if got := s.authorize(req); got != tt.allowed {
				t.Errorf("authorize = %t, want %t", got, tt.allowed)
			}
		})
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		host    string
		allowed bool
	}{
		{"no origin header", nil, "", "example.com", true},
		{"same host", nil, "http://example.com", "example.com", true},
		{"localhost", nil, "http://localhost:3000", "example.com", true},
		{"loopback", nil, "http://127.0.0.1:8080", "example.com", true},
		{"foreign host", nil, "http://evil.com", "example.com", false},
		{"allowlisted", []string{"http://ui.lan:3000"}, "http://ui.lan:3000", "example.com", true},
		{"not allowlisted", []string{"http://ui.lan:3000"}, "http://other.lan", "example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&fakeController{}, tt.origins, "")
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := s.checkOrigin(req); got != tt.allowed {
				t.Errorf("checkOrigin = %t, want %t", got, tt.allowed)
			}
		})
	}
}

func TestSessionRoutes(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		ctrlErr    error
		wantStatus int
	}{
		{"accept", http.MethodPost, "/api/sessions/3/accept", nil, http.StatusNoContent},
		{"reject", http.MethodPost, "/api/sessions/3/reject", nil, http.StatusNoContent},
		{"focus", http.MethodPost, "/api/sessions/3/focus", nil, http.StatusNoContent},
		{"get not allowed", http.MethodGet, "/api/sessions/3/accept", nil, http.StatusMethodNotAllowed},
		{"unknown action", http.MethodPost, "/api/sessions/3/promote", nil, http.StatusNotFound},
		{"bad id", http.MethodPost, "/api/sessions/zero/accept", nil, http.StatusBadRequest},
		{"no action", http.MethodPost, "/api/sessions/3", nil, http.StatusNotFound},
		{"not pending", http.MethodPost, "/api/sessions/3/accept", tracker.ErrNotPending, http.StatusConflict},
		{"unknown session", http.MethodPost, "/api/sessions/3/focus", session.ErrNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeController{err: tt.ctrlErr}
			s := newTestServer(ctrl, nil, "")
			mux := http.NewServeMux()
			s.SetupRoutes(mux)

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestSessionRouteDispatchesToController(t *testing.T) {
	ctrl := &fakeController{}
	s := newTestServer(ctrl, nil, "")
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sessions/7/reject", nil))

	if len(ctrl.rejected) != 1 || ctrl.rejected[0] != 7 {
		t.Errorf("rejected = %v, want [7]", ctrl.rejected)
	}
}

func TestSessionsEndpointBeforeFirstPublish(t *testing.T) {
	s := newTestServer(&fakeController{}, nil, "")
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q, want application/json", ct)
	}
}

func TestAuthRequiredOnRoutes(t *testing.T) {
	s := newTestServer(&fakeController{}, nil, "secret")
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	for _, path := range []string{"/api/sessions", "/api/stats", "/api/sessions/1/accept"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", path, rec.Code)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	SecurityHeaders(inner).ServeHTTP(rec, req)

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"X-XSS-Protection":        "1; mode=block",
		"Content-Security-Policy": "default-src 'self'",
	}

	for header, expected := range want {
		if got := rec.Header().Get(header); got != expected {
			t.Errorf("header %s = %q, want %q", header, got, expected)
		}
	}
}
