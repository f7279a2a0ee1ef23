package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/danmuck/dpapctl/internal/dmap"
	"github.com/danmuck/dpapctl/internal/library"
)

// Login runs the full handshake: server info, content codes, login, initial
// revision, database listing and a first refresh of every database. Any
// failure leaves the client disconnected.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateLoggingIn {
		c.mu.Unlock()
		return ErrLoginInProgress
	}
	c.state = StateLoggingIn
	c.session = Session{}
	c.baselined = make(map[int32]bool)
	c.mu.Unlock()

	if err := c.login(ctx); err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.session = Session{}
		c.mu.Unlock()
		c.log.Warn().Err(err).Msg("login failed")
		return err
	}

	c.mu.Lock()
	c.state = StateReady
	sid := c.session.ID
	c.mu.Unlock()
	c.startJanitor()
	c.log.Info().Int32("session", sid).Int("databases", len(c.Databases())).Msg("logged in")
	return nil
}

func (c *Client) login(ctx context.Context) error {
	c.fetchServerInfo(ctx)

	dict := dmap.Bootstrap()
	body, err := c.transport.Fetch(ctx, "/content-codes", "")
	if err != nil {
		return loginFailure("content-codes", err)
	}
	codes, err := dmap.Decode(dict, body)
	if err != nil {
		return loginFailure("content-codes", err)
	}
	if err := dict.Merge(codes); err != nil {
		return loginFailure("content-codes", err)
	}

	var query string
	if c.cfg.Password != "" {
		query = "password=" + url.QueryEscape(c.cfg.Password)
	}
	body, err = c.transport.Fetch(ctx, "/login", query)
	if err != nil {
		return loginFailure("login", err)
	}
	resp, err := dmap.Decode(dict, body)
	if err != nil {
		return loginFailure("login", err)
	}
	sid, ok := resp.Int("dmap.sessionid")
	if !ok || sid == 0 {
		return loginFailure("login", ErrMissingSession)
	}

	c.mu.Lock()
	c.session = Session{ID: int32(sid), Dictionary: dict}
	c.mu.Unlock()

	rev, err := c.Update(ctx)
	if err != nil {
		// servers without /update still serve full listings
		c.log.Debug().Err(err).Msg("initial update skipped")
		rev = 0
	}

	if err := c.FetchDatabases(ctx); err != nil {
		return loginFailure("databases", err)
	}
	if _, err := c.refreshAll(ctx, rev); err != nil {
		return loginFailure("refresh", err)
	}
	return nil
}

func loginFailure(step string, err error) error {
	if isUnauthorized(err) {
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	return &LoginError{Step: step, Err: err}
}

// fetchServerInfo reads /server-info and selects the validation hash table.
// It is advisory: failures are logged and login continues.
func (c *Client) fetchServerInfo(ctx context.Context) {
	body, err := c.transport.Fetch(ctx, "/server-info", "")
	if err != nil {
		c.log.Debug().Err(err).Msg("server-info unavailable")
		return
	}
	resp, err := dmap.Decode(dmap.Bootstrap(), body)
	if err != nil {
		c.log.Debug().Err(err).Msg("server-info undecodable")
		return
	}

	info := ServerInfo{}
	info.Name, _ = resp.Str("dmap.itemname")
	for _, name := range []string{"dpap.protocolversion", "dmap.protocolversion"} {
		if n := resp.Child(name); n != nil {
			if v, ok := n.Value.(dmap.Version); ok {
				info.ProtocolVersion = v
				break
			}
		}
	}
	if v, ok := resp.Int("dmap.loginrequired"); ok {
		info.LoginRequired = v != 0
	}
	if v, ok := resp.Int("dmap.supportsupdate"); ok {
		info.SupportsUpdate = v != 0
	}

	c.mu.Lock()
	c.info = info
	c.mu.Unlock()

	if vs, ok := c.transport.(versionSetter); ok && info.ProtocolVersion.Major > 0 {
		vs.SetValidationVersion(int(info.ProtocolVersion.Major))
	}
	c.log.Debug().
		Str("server", info.Name).
		Uint16("protocol_major", info.ProtocolVersion.Major).
		Bool("login_required", info.LoginRequired).
		Msg("server info")
}

// Logout ends the session. The /logout request is best-effort.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.RLock()
	sid := c.session.ID
	c.mu.RUnlock()
	if sid == 0 {
		return ErrNotLoggedIn
	}

	if _, err := c.transport.Fetch(ctx, "/logout", c.query()); err != nil {
		c.log.Debug().Err(err).Msg("logout request failed")
	}

	c.mu.Lock()
	c.session.ID = 0
	c.state = StateLoggedOut
	c.mu.Unlock()
	c.stopJanitor()
	c.thumbs.DeleteAll()
	c.log.Info().Int32("session", sid).Msg("logged out")
	return nil
}

// Update asks the server for its current revision. Servers may hold the
// request open until the revision moves past the one already seen.
func (c *Client) Update(ctx context.Context) (int32, error) {
	dict, err := c.dictionary()
	if err != nil {
		return 0, err
	}
	c.mu.RLock()
	rev := c.session.Revision
	c.mu.RUnlock()
	if rev <= 0 {
		rev = 1
	}

	body, err := c.transport.Fetch(ctx, "/update", c.query("revision-number="+strconv.Itoa(int(rev))))
	if err != nil {
		return 0, err
	}
	n, err := dmap.DecodeUntil(dict, body, "dmap.serverrevision")
	if err != nil {
		return 0, fmt.Errorf("client: decode /update: %w", err)
	}
	v, ok := dmap.IntValue(n.Value)
	if !ok {
		return 0, fmt.Errorf("client: decode /update: %w", dmap.ErrValueMismatch)
	}
	return int32(v), nil
}

// FetchDatabases reconciles the database list against /databases.
func (c *Client) FetchDatabases(ctx context.Context) error {
	dict, err := c.dictionary()
	if err != nil {
		return err
	}
	resp, err := c.fetch(ctx, dict, "/databases")
	if err != nil {
		return err
	}
	listing := resp.Child("dmap.listing")
	if listing == nil {
		return nil
	}

	seen := make(map[int32]bool)
	var added, renamed []*library.Database
	c.mu.Lock()
	for _, item := range listing.Children() {
		id64, ok := item.Int("dmap.itemid")
		if !ok {
			continue
		}
		id := int32(id64)
		seen[id] = true
		name, _ := item.Str("dmap.itemname")
		if db := c.lookupDatabaseLocked(id); db != nil {
			if db.SetName(name) {
				renamed = append(renamed, db)
			}
			continue
		}
		pid, _ := item.Int("dmap.persistentid")
		db := library.NewServerDatabase(id, pid, name)
		c.databases = append(c.databases, db)
		added = append(added, db)
	}
	var removed []*library.Database
	kept := c.databases[:0]
	for _, db := range c.databases {
		if seen[db.ID()] {
			kept = append(kept, db)
			continue
		}
		removed = append(removed, db)
	}
	c.databases = kept
	c.mu.Unlock()

	for _, db := range added {
		c.emit(library.Event{Kind: library.DatabaseAdded, Database: db})
	}
	for _, db := range renamed {
		c.emit(library.Event{Kind: library.DatabaseUpdated, Database: db})
	}
	for _, db := range removed {
		c.emit(library.Event{Kind: library.DatabaseRemoved, Database: db})
	}
	return nil
}

func (c *Client) lookupDatabaseLocked(id int32) *library.Database {
	for _, db := range c.databases {
		if db.ID() == id {
			return db
		}
	}
	return nil
}

// IsAuthError reports whether err came from a rejected login.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthentication)
}
