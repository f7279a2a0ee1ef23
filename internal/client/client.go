// Package client owns one session against a photo-sharing server and keeps
// the local mirror in step with it.
//
// Lifecycle order:
// - disconnected -> logging in -> ready -> (refreshing -> ready)* -> logged out
//
// All decoding goes through the dictionary built during login; it is not
// mutated afterwards.
package client

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/dpapctl/internal/dmap"
	"github.com/danmuck/dpapctl/internal/library"
	"github.com/danmuck/dpapctl/internal/observability"
	"github.com/danmuck/dpapctl/internal/transport"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Transport is the request capability the engine consumes.
type Transport interface {
	Fetch(ctx context.Context, path, query string) ([]byte, error)
	FetchStream(ctx context.Context, req transport.StreamRequest) (*transport.StreamResponse, error)
}

type versionSetter interface {
	SetValidationVersion(major int)
}

type canceler interface {
	CancelAll()
}

// State is the session lifecycle phase.
type State int

const (
	StateDisconnected State = iota
	StateLoggingIn
	StateReady
	StateRefreshing
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateLoggingIn:
		return "logging_in"
	case StateReady:
		return "ready"
	case StateRefreshing:
		return "refreshing"
	case StateLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Session is the server-assigned login state.
type Session struct {
	ID         int32
	Revision   int32
	Dictionary *dmap.Dictionary
}

// ServerInfo is what /server-info advertises.
type ServerInfo struct {
	Name            string
	ProtocolVersion dmap.Version
	LoginRequired   bool
	SupportsUpdate  bool
}

// Config tunes one client.
type Config struct {
	Username string
	Password string
	// MaxParallelRefresh bounds concurrent per-database refreshes.
	MaxParallelRefresh int
	// UseDelta requests delta listings once a revision baseline exists.
	UseDelta          bool
	ThumbnailCacheTTL time.Duration
	// ThumbnailCacheSize caps how many thumbnails stay cached.
	ThumbnailCacheSize uint64
}

func DefaultConfig() Config {
	return Config{
		MaxParallelRefresh: 1,
		UseDelta:           true,
		ThumbnailCacheTTL:  10 * time.Minute,
		ThumbnailCacheSize: 512,
	}
}

type thumbKey struct {
	db    int32
	photo int32
}

// Client is one session and its mirrored databases.
type Client struct {
	cfg       Config
	transport Transport
	instance  string
	log       zerolog.Logger
	thumbs    *ttlcache.Cache[thumbKey, []byte]

	janitorMu      sync.Mutex
	janitorRunning bool

	mu           sync.RWMutex
	state        State
	refreshDepth int
	session      Session
	info         ServerInfo
	databases    []*library.Database
	// baselined holds databases refreshed at least once this session.
	baselined map[int32]bool

	emitMu    sync.Mutex
	observers []library.Observer
}

func New(cfg Config, t Transport) *Client {
	if cfg.MaxParallelRefresh <= 0 {
		cfg.MaxParallelRefresh = 1
	}
	if cfg.ThumbnailCacheTTL <= 0 {
		cfg.ThumbnailCacheTTL = DefaultConfig().ThumbnailCacheTTL
	}
	if cfg.ThumbnailCacheSize == 0 {
		cfg.ThumbnailCacheSize = DefaultConfig().ThumbnailCacheSize
	}
	instance := uuid.NewString()
	return &Client{
		cfg:       cfg,
		transport: t,
		instance:  instance,
		log:       log.Logger.With().Str("component", "client").Str("instance", instance).Logger(),
		thumbs: ttlcache.New[thumbKey, []byte](
			ttlcache.WithTTL[thumbKey, []byte](cfg.ThumbnailCacheTTL),
			ttlcache.WithCapacity[thumbKey, []byte](cfg.ThumbnailCacheSize),
		),
		state: StateDisconnected,
	}
}

// Subscribe registers o for change events. Register before refreshing.
func (c *Client) Subscribe(o library.Observer) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.observers = append(c.observers, o)
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Session returns a copy of the current session.
func (c *Client) Session() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Client) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

func (c *Client) Databases() []*library.Database {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*library.Database, len(c.databases))
	copy(out, c.databases)
	return out
}

func (c *Client) LookupDatabase(id int32) *library.Database {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, db := range c.databases {
		if db.ID() == id {
			return db
		}
	}
	return nil
}

// Status is a point-in-time view for diagnostics.
type Status struct {
	Instance  string            `json:"instance"`
	Server    string            `json:"server"`
	State     string            `json:"state"`
	SessionID int32             `json:"session_id"`
	Revision  int32             `json:"revision"`
	Databases []library.Summary `json:"databases"`
}

func (c *Client) Status() Status {
	c.mu.RLock()
	st := Status{
		Instance:  c.instance,
		Server:    c.info.Name,
		State:     c.state.String(),
		SessionID: c.session.ID,
		Revision:  c.session.Revision,
	}
	dbs := make([]*library.Database, len(c.databases))
	copy(dbs, c.databases)
	c.mu.RUnlock()

	st.Databases = make([]library.Summary, 0, len(dbs))
	for _, db := range dbs {
		st.Databases = append(st.Databases, db.Summary())
	}
	return st
}

// startJanitor runs the thumbnail cache's expiry loop until stopJanitor.
func (c *Client) startJanitor() {
	c.janitorMu.Lock()
	defer c.janitorMu.Unlock()
	if c.janitorRunning {
		return
	}
	c.janitorRunning = true
	go c.thumbs.Start()
}

func (c *Client) stopJanitor() {
	c.janitorMu.Lock()
	defer c.janitorMu.Unlock()
	if !c.janitorRunning {
		return
	}
	c.janitorRunning = false
	c.thumbs.Stop()
}

func (c *Client) emit(e library.Event) {
	observability.RecordEvent(e.Kind.String())
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	for _, o := range c.observers {
		o.Notify(e)
	}
}

// query prefixes extra with the session id once one is held.
func (c *Client) query(extra ...string) string {
	c.mu.RLock()
	sid := c.session.ID
	c.mu.RUnlock()

	var b strings.Builder
	if sid != 0 {
		fmt.Fprintf(&b, "session-id=%d&", sid)
	}
	first := true
	for _, e := range extra {
		if e == "" {
			continue
		}
		if !first {
			b.WriteByte('&')
		}
		b.WriteString(e)
		first = false
	}
	return b.String()
}

// fetch retrieves path and decodes it with the session dictionary.
func (c *Client) fetch(ctx context.Context, dict *dmap.Dictionary, path string, extra ...string) (*dmap.Node, error) {
	body, err := c.transport.Fetch(ctx, path, c.query(extra...))
	if err != nil {
		return nil, err
	}
	n, err := dmap.Decode(dict, body)
	if err != nil {
		return nil, fmt.Errorf("client: decode %s: %w", path, err)
	}
	return n, nil
}

func (c *Client) dictionary() (*dmap.Dictionary, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session.Dictionary == nil || c.session.ID == 0 {
		return nil, ErrNotLoggedIn
	}
	return c.session.Dictionary, nil
}
