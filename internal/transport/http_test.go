package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/dpapctl/internal/auth"
	"github.com/danmuck/dpapctl/internal/testutil/testlog"
)

func newTestTransport(t *testing.T, h http.HandlerFunc) (*HTTP, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := DefaultConfig()
	cfg.Address = strings.TrimPrefix(srv.URL, "http://")
	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	return tr, srv
}

func TestFetchSendsValidationHeaders(t *testing.T) {
	testlog.Start(t)
	var gotURI, gotHash, gotID string
	tr, _ := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.URL.RequestURI()
		gotHash = r.Header.Get(auth.HeaderValidation)
		gotID = r.Header.Get(auth.HeaderRequestID)
		_, _ = w.Write([]byte("payload"))
	})

	body, err := tr.Fetch(context.Background(), "/databases", "session-id=5&")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(body) != "payload" {
		t.Fatalf("unexpected body: %q", body)
	}
	if gotURI != "/databases?session-id=5&" {
		t.Fatalf("unexpected uri: %q", gotURI)
	}
	if gotID != "1" {
		t.Fatalf("unexpected request id: %q", gotID)
	}
	if want := auth.Hash(3, gotURI, auth.DefaultSelect, 1); gotHash != want {
		t.Fatalf("unexpected validation %q, want %q", gotHash, want)
	}
}

func TestFetchWithoutValidation(t *testing.T) {
	testlog.Start(t)
	var gotHash string
	tr, _ := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		gotHash = r.Header.Get(auth.HeaderValidation)
	})
	tr.SetValidationVersion(0)
	if _, err := tr.Fetch(context.Background(), "/login", ""); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotHash != "" {
		t.Fatalf("validation header should be omitted, got %q", gotHash)
	}
}

func TestFetchStatusError(t *testing.T) {
	testlog.Start(t)
	tr, _ := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := tr.Fetch(context.Background(), "/login", "")
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode() != http.StatusUnauthorized {
		t.Fatalf("expected 401 StatusError, got %v", err)
	}
}

func TestFetchStreamRange(t *testing.T) {
	testlog.Start(t)
	var gotRange, gotExtra string
	tr, _ := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		gotExtra = r.Header.Get("X-Extra")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("tail"))
	})
	resp, err := tr.FetchStream(context.Background(), StreamRequest{
		Path:    "/databases/1/items",
		Offset:  100,
		Headers: map[string]string{"X-Extra": "yes"},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Status != http.StatusPartialContent || string(b) != "tail" {
		t.Fatalf("unexpected response %d %q", resp.Status, b)
	}
	if gotRange != "bytes=100-" || gotExtra != "yes" {
		t.Fatalf("unexpected headers range=%q extra=%q", gotRange, gotExtra)
	}
}

func TestCancelAllAbortsInFlight(t *testing.T) {
	testlog.Start(t)
	release := make(chan struct{})
	started := make(chan struct{})
	tr, _ := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	errc := make(chan error, 1)
	go func() {
		_, err := tr.Fetch(context.Background(), "/update", "revision-number=1")
		errc <- err
	}()
	<-started
	tr.CancelAll()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("fetch not cancelled")
	}
}

func TestNewRequiresAddress(t *testing.T) {
	testlog.Start(t)
	if _, err := New(Config{}); !errors.Is(err, ErrAddressRequired) {
		t.Fatalf("expected ErrAddressRequired, got %v", err)
	}
	if _, err := New(Config{Address: "nohostport"}); err == nil {
		t.Fatalf("expected address parse error")
	}
}
