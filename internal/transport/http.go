// Package transport issues HTTP requests to a photo-sharing server.
//
// It knows nothing about the tlv format: callers hand it a path and a raw
// query and receive bytes or a stream back.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/dpapctl/internal/auth"
	"github.com/danmuck/dpapctl/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var ErrAddressRequired = errors.New("transport: server address required")

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
	Path string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: %s returned %d %s", e.Path, e.Code, http.StatusText(e.Code))
}

func (e *StatusError) StatusCode() int { return e.Code }

// Config configures one server connection.
type Config struct {
	Address      string
	Username     string
	Password     string
	UserAgent    string
	Timeout      time.Duration
	RequestRate  float64
	RequestBurst int
	// ValidationVersion selects the validation hash table; 0 disables the
	// validation headers.
	ValidationVersion int
}

func DefaultConfig() Config {
	return Config{
		UserAgent:         "dpapctl/0.1",
		Timeout:           30 * time.Second,
		RequestBurst:      4,
		ValidationVersion: 3,
	}
}

// StreamRequest describes a ranged, streamed fetch.
type StreamRequest struct {
	Path             string
	Query            string
	Offset           int64
	Headers          map[string]string
	RequestID        int
	DisableKeepAlive bool
}

// StreamResponse hands the body to the caller, who must close it.
type StreamResponse struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
}

// HTTP is a Transport over net/http.
type HTTP struct {
	cfg       Config
	baseURL   string
	client    *http.Client
	limiter   *rate.Limiter
	requestID atomic.Int32
	version   atomic.Int32
	log       zerolog.Logger

	mu      sync.Mutex
	seq     uint64
	cancels map[uint64]context.CancelFunc
}

func New(cfg Config) (*HTTP, error) {
	addr := strings.TrimSpace(cfg.Address)
	if addr == "" {
		return nil, ErrAddressRequired
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, fmt.Errorf("transport: address %q: %w", addr, err)
	}
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	limit := rate.Inf
	if cfg.RequestRate > 0 {
		limit = rate.Limit(cfg.RequestRate)
	}
	if cfg.RequestBurst <= 0 {
		cfg.RequestBurst = defaults.RequestBurst
	}
	t := &HTTP{
		cfg:     cfg,
		baseURL: "http://" + addr,
		// streams can outlive any fixed timeout; deadlines come from ctx
		client:  &http.Client{},
		limiter: rate.NewLimiter(limit, cfg.RequestBurst),
		log:     log.Logger.With().Str("component", "transport").Str("server", addr).Logger(),
		cancels: make(map[uint64]context.CancelFunc),
	}
	t.version.Store(int32(cfg.ValidationVersion))
	return t, nil
}

// SetValidationVersion switches the validation hash table once the server's
// protocol version is known.
func (t *HTTP) SetValidationVersion(major int) {
	t.version.Store(int32(major))
}

// Fetch performs a GET and returns the whole body.
func (t *HTTP) Fetch(ctx context.Context, path, query string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()
	ctx, done := t.track(ctx)
	defer done()

	req, err := t.newRequest(ctx, path, query, int(t.requestID.Add(1)))
	if err != nil {
		return nil, err
	}
	resp, err := t.do(req, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: read %s: %w", path, err)
	}
	return body, nil
}

// FetchStream performs a GET starting at req.Offset and returns the body
// unread.
func (t *HTTP) FetchStream(ctx context.Context, sreq StreamRequest) (*StreamResponse, error) {
	ctx, done := t.track(ctx)

	rid := sreq.RequestID
	if rid <= 0 {
		rid = int(t.requestID.Add(1))
	}
	req, err := t.newRequest(ctx, sreq.Path, sreq.Query, rid)
	if err != nil {
		done()
		return nil, err
	}
	if sreq.Offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(sreq.Offset, 10)+"-")
	}
	for k, v := range sreq.Headers {
		req.Header.Set(k, v)
	}
	req.Close = sreq.DisableKeepAlive

	resp, err := t.do(req, sreq.Path)
	if err != nil {
		done()
		return nil, err
	}
	return &StreamResponse{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   &trackedBody{ReadCloser: resp.Body, done: done},
	}, nil
}

// CancelAll aborts every request still in flight.
func (t *HTTP) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, cancel := range t.cancels {
		cancel()
		delete(t.cancels, id)
	}
}

func (t *HTTP) track(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.seq++
	id := t.seq
	t.cancels[id] = cancel
	t.mu.Unlock()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.cancels, id)
			t.mu.Unlock()
			cancel()
		})
	}
}

func (t *HTTP) newRequest(ctx context.Context, path, query string, requestID int) (*http.Request, error) {
	uri := path
	if query != "" {
		uri += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+uri, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: build %s: %w", path, err)
	}
	req.Header.Set("User-Agent", t.cfg.UserAgent)
	req.Header.Set("Client-DPAP-Version", "1.1")
	if v := int(t.version.Load()); v > 0 {
		req.Header.Set(auth.HeaderAccessIdx, strconv.Itoa(auth.DefaultSelect))
		req.Header.Set(auth.HeaderRequestID, strconv.Itoa(requestID))
		req.Header.Set(auth.HeaderValidation, auth.Hash(v, uri, auth.DefaultSelect, requestID))
	}
	if t.cfg.Password != "" {
		req.SetBasicAuth(t.cfg.Username, t.cfg.Password)
	}
	return req, nil
}

func (t *HTTP) do(req *http.Request, path string) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("transport: %s: %w", path, err)
	}
	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		observability.RecordFetch(path, 0, time.Since(start))
		return nil, fmt.Errorf("transport: %s: %w", path, err)
	}
	observability.RecordFetch(path, resp.StatusCode, time.Since(start))
	t.log.Debug().Str("path", path).Int("status", resp.StatusCode).Dur("duration", time.Since(start)).Msg("fetch")
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Path: path}
	}
	return resp, nil
}

type trackedBody struct {
	io.ReadCloser
	done func()
}

func (b *trackedBody) Close() error {
	err := b.ReadCloser.Close()
	b.done()
	return err
}
