package http

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln
}

func TestNewServer_CORS(t *testing.T) {
	t.Parallel()

	mount := func(mux *http.ServeMux) error {
		mux.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		return nil
	}

	tests := []struct {
		name       string
		origins    []string
		origin     string
		wantHeader string
	}{
		{"allow all without configured origins", nil, "https://any.example", "*"},
		{"configured origin is echoed", []string{"https://console.example"}, "https://console.example", "https://console.example"},
		{"unknown origin gets no header", []string{"https://console.example"}, "https://evil.example", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ln := newTestListener(t)
			defer ln.Close()

			srv, err := NewServer(
				WithListener(ln),
				WithAllowedOrigins(tt.origins),
				WithMount(mount),
			)
			if err != nil {
				t.Fatalf("NewServer() error = %v", err)
			}

			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantHeader {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantHeader)
			}
		})
	}
}

func TestNewServer_MountError(t *testing.T) {
	t.Parallel()

	ln := newTestListener(t)
	defer ln.Close()

	want := errors.New("boom")
	_, err := NewServer(
		WithListener(ln),
		WithMount(func(*http.ServeMux) error { return want }),
	)
	if !errors.Is(err, want) {
		t.Fatalf("NewServer() error = %v, want %v", err, want)
	}
}

func TestServer_StartStop(t *testing.T) {
	t.Parallel()

	ln := newTestListener(t)
	srv, err := NewServer(
		WithListener(ln),
		WithMount(func(mux *http.ServeMux) error {
			mux.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, "pong")
			})
			return nil
		}),
	)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	resp, err := http.Get("http://" + srv.Addr().String() + "/ping")
	if err != nil {
		t.Fatalf("GET /ping: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "pong" {
		t.Errorf("body = %q, want pong", body)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := srv.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
