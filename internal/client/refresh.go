package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/danmuck/dpapctl/internal/dmap"
	"github.com/danmuck/dpapctl/internal/library"
	"github.com/danmuck/dpapctl/internal/observability"
	"golang.org/x/sync/errgroup"
)

const (
	albumMeta      = "meta=dmap.itemid,dmap.itemname,dmap.persistentid,daap.baseplaylist,dmap.itemcount"
	membershipMeta = "meta=dmap.itemid,dmap.containeritemid"
	photoMeta      = "meta=dmap.itemid,dmap.itemname,daap.songartist,daap.songalbum,daap.songyear," +
		"dpap.imageformat,dpap.imagelargefilesize,dpap.imagefilesize,dpap.imagepixelwidth," +
		"dpap.imagepixelheight,dpap.creationdate,daap.songdatemodified,dpap.imagefilename"
	photoType = "type=photo"
)

// Refresh reconciles one database against the server and returns the first
// error it hits. The revision baseline is left unchanged.
func (c *Client) Refresh(ctx context.Context, db *library.Database) error {
	if !db.IsServerBound() {
		return ErrNotServerBound
	}
	dict, err := c.dictionary()
	if err != nil {
		return err
	}
	c.enterRefresh()
	defer c.exitRefresh()

	c.mu.RLock()
	rev := c.session.Revision
	c.mu.RUnlock()
	err = c.refreshDatabase(ctx, dict, db, rev, 0)
	observability.RecordRefresh(err == nil)
	if err == nil {
		c.markBaselined(db)
	}
	return err
}

// RefreshAll reconciles every database at revision rev. A failing database
// is logged and skipped; only a missing session or a cancelled context is
// returned.
func (c *Client) RefreshAll(ctx context.Context, rev int32) error {
	_, err := c.refreshAll(ctx, rev)
	return err
}

// refreshAll returns how many databases failed. The session revision only
// advances when none did, so a skipped database is retried from the same
// baseline.
func (c *Client) refreshAll(ctx context.Context, rev int32) (int, error) {
	dict, err := c.dictionary()
	if err != nil {
		return 0, err
	}
	c.enterRefresh()
	defer c.exitRefresh()

	c.mu.RLock()
	old := c.session.Revision
	c.mu.RUnlock()
	delta := int32(0)
	if c.cfg.UseDelta && old > 0 && rev > 0 {
		delta = old
	}

	dbs := c.Databases()
	failed := make([]bool, len(dbs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxParallelRefresh)
	for i, db := range dbs {
		i, db := i, db
		g.Go(func() error {
			start := time.Now()
			d := delta
			if !c.isBaselined(db) {
				// first sight of this database: ask for the full listing
				d = 0
			}
			err := c.refreshDatabase(gctx, dict, db, rev, d)
			observability.RecordRefresh(err == nil)
			if err != nil {
				failed[i] = true
				c.log.Warn().Err(err).Int32("db", db.ID()).Msg("database refresh skipped")
				return nil
			}
			c.markBaselined(db)
			c.log.Debug().Int32("db", db.ID()).Dur("duration", time.Since(start)).Msg("database refreshed")
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	n := 0
	for _, f := range failed {
		if f {
			n++
		}
	}
	if n == 0 && rev > 0 {
		c.mu.Lock()
		c.session.Revision = rev
		c.mu.Unlock()
		observability.SetRevision(rev)
	}
	return n, nil
}

func (c *Client) isBaselined(db *library.Database) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baselined[db.ID()]
}

func (c *Client) markBaselined(db *library.Database) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.baselined == nil {
		c.baselined = make(map[int32]bool)
	}
	c.baselined[db.ID()] = true
}

func (c *Client) enterRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshDepth++
	if c.state == StateReady {
		c.state = StateRefreshing
	}
}

func (c *Client) exitRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshDepth--
	if c.refreshDepth == 0 && c.state == StateRefreshing {
		c.state = StateReady
	}
}

// cycle emits events for one database refresh and counts them.
type cycle struct {
	c       *Client
	db      *library.Database
	changes int
}

func (cy *cycle) emit(kind library.EventKind, a *library.Album, p *library.Photo) {
	cy.changes++
	cy.c.emit(library.Event{Kind: kind, Database: cy.db, Album: a, Photo: p})
}

func revisionQuery(rev, delta int32) string {
	if rev <= 0 {
		return ""
	}
	q := "revision-number=" + strconv.Itoa(int(rev))
	if delta > 0 {
		q += "&delta=" + strconv.Itoa(int(delta))
	}
	return q
}

// refreshDatabase runs albums, then memberships, then photo metadata.
func (c *Client) refreshDatabase(ctx context.Context, dict *dmap.Dictionary, db *library.Database, rev, delta int32) error {
	cy := &cycle{c: c, db: db}
	defer func() {
		if cy.changes > 0 {
			c.emit(library.Event{Kind: library.DatabaseUpdated, Database: db})
		}
	}()
	revq := revisionQuery(rev, delta)

	if err := c.refreshAlbums(ctx, dict, cy, revq); err != nil {
		return fmt.Errorf("albums: %w", err)
	}
	albums := db.Albums()
	for _, a := range albums {
		if err := c.refreshMembership(ctx, dict, cy, a, revq); err != nil {
			return fmt.Errorf("album %d items: %w", a.ID(), err)
		}
	}
	if base := db.BaseAlbum(); base.ID() != 0 {
		albums = append(albums, base)
	}
	for _, a := range albums {
		if err := c.refreshPhotos(ctx, dict, cy, a, revq); err != nil {
			return fmt.Errorf("album %d photos: %w", a.ID(), err)
		}
	}
	return nil
}

func (c *Client) refreshAlbums(ctx context.Context, dict *dmap.Dictionary, cy *cycle, revq string) error {
	db := cy.db
	path := "/databases/" + strconv.Itoa(int(db.ID())) + "/containers"
	resp, err := c.fetch(ctx, dict, path, albumMeta, revq)
	if err != nil {
		return err
	}
	listing := resp.Child("dmap.listing")
	if listing == nil {
		return nil
	}
	isDelta := isDeltaListing(resp)

	seen := make(map[int32]bool)
	for _, item := range listing.Children() {
		id64, ok := item.Int("dmap.itemid")
		if !ok {
			continue
		}
		id := int32(id64)
		name, _ := item.Str("dmap.itemname")
		if base, _ := item.Int("daap.baseplaylist"); base != 0 {
			if db.BindBaseAlbum(id, name) {
				cy.changes++
			}
			continue
		}
		seen[id] = true
		if a := db.LookupAlbum(id); a != nil {
			if a.SetName(name) {
				cy.changes++
			}
			continue
		}
		a := library.NewAlbum(id, name)
		db.AddAlbum(a)
		cy.emit(library.AlbumAdded, a, nil)
	}

	if isDelta {
		for _, id := range deletedIDs(resp) {
			if a := db.RemoveAlbum(id); a != nil {
				cy.emit(library.AlbumRemoved, a, nil)
			}
		}
	}
	// album listings always enumerate every album, delta or not
	for _, a := range db.Albums() {
		if seen[a.ID()] {
			continue
		}
		if removed := db.RemoveAlbum(a.ID()); removed != nil {
			cy.emit(library.AlbumRemoved, removed, nil)
		}
	}
	return nil
}

// refreshMembership patches the album's photo order position by position.
func (c *Client) refreshMembership(ctx context.Context, dict *dmap.Dictionary, cy *cycle, a *library.Album, revq string) error {
	db := cy.db
	resp, err := c.fetch(ctx, dict, itemsPath(db, a), membershipMeta, photoType, revq)
	if err != nil {
		return err
	}
	isDelta := isDeltaListing(resp)
	if isDelta {
		for _, cid := range deletedIDs(resp) {
			i := a.IndexOfContainer(cid)
			if i < 0 {
				continue
			}
			if p := a.RemoveAt(i); p != nil {
				cy.emit(library.PhotoRemoved, a, p)
			}
		}
	}

	listing := resp.Child("dmap.listing")
	if listing == nil {
		return nil
	}
	entries := listing.Children()
	for i, item := range entries {
		pid64, ok := item.Int("dmap.itemid")
		if !ok {
			continue
		}
		cid64, _ := item.Int("dmap.containeritemid")
		pid, cid := int32(pid64), int32(cid64)

		existing, existingCID, ok := a.At(i)
		if ok && existing.ID == pid && existingCID == cid {
			continue
		}
		p, err := c.memberPhoto(cy, pid)
		if err != nil {
			return err
		}
		if ok {
			a.RemoveAt(i)
			cy.emit(library.PhotoRemoved, a, existing)
		}
		a.Insert(i, p, cid)
		cy.emit(library.PhotoAdded, a, p)
	}

	if !isDelta {
		for a.Len() > len(entries) {
			if p := a.RemoveAt(a.Len() - 1); p != nil {
				cy.emit(library.PhotoRemoved, a, p)
			}
		}
	}
	return nil
}

// memberPhoto resolves a membership entry to the database's photo, adding a
// placeholder the metadata pass fills in when the photo is new.
func (c *Client) memberPhoto(cy *cycle, id int32) (*library.Photo, error) {
	if p := cy.db.LookupPhoto(id); p != nil {
		return p, nil
	}
	p := &library.Photo{ID: id}
	if err := cy.db.AddPhoto(p); err != nil {
		if errors.Is(err, library.ErrDuplicatePhoto) {
			return cy.db.LookupPhoto(id), nil
		}
		return nil, err
	}
	cy.emit(library.PhotoAdded, nil, p)
	return p, nil
}

// refreshPhotos reconciles photo metadata listed under a. It never changes
// album membership.
func (c *Client) refreshPhotos(ctx context.Context, dict *dmap.Dictionary, cy *cycle, a *library.Album, revq string) error {
	db := cy.db
	resp, err := c.fetch(ctx, dict, itemsPath(db, a), photoMeta, photoType, revq)
	if err != nil {
		return err
	}
	isDelta := isDeltaListing(resp)

	var seen map[int32]bool
	if listing := resp.Child("dmap.listing"); listing != nil {
		seen = make(map[int32]bool, len(listing.Children()))
		for _, item := range listing.Children() {
			decoded, ok := decodePhoto(item)
			if !ok {
				continue
			}
			seen[decoded.ID] = true
			existing := db.LookupPhoto(decoded.ID)
			if existing == nil {
				if err := db.AddPhoto(decoded); err != nil {
					return err
				}
				cy.emit(library.PhotoAdded, nil, decoded)
				continue
			}
			if db.UpdatePhoto(existing, decoded) {
				cy.emit(library.PhotoUpdated, nil, existing)
			}
		}
	}

	if isDelta {
		for _, id := range deletedIDs(resp) {
			if p := db.RemovePhoto(id); p != nil {
				cy.emit(library.PhotoRemoved, nil, p)
			}
		}
		return nil
	}
	// a full base listing names every photo the database holds
	if a == db.BaseAlbum() && seen != nil {
		for _, p := range db.Photos() {
			if seen[p.ID] {
				continue
			}
			if removed := db.RemovePhoto(p.ID); removed != nil {
				cy.emit(library.PhotoRemoved, nil, removed)
			}
		}
	}
	return nil
}

func itemsPath(db *library.Database, a *library.Album) string {
	return "/databases/" + strconv.Itoa(int(db.ID())) + "/containers/" + strconv.Itoa(int(a.ID())) + "/items"
}

func isDeltaListing(resp *dmap.Node) bool {
	v, ok := resp.Int("dmap.updatetype")
	return ok && v == 1
}

func deletedIDs(resp *dmap.Node) []int32 {
	list := resp.Child("dmap.deletedidlisting")
	if list == nil {
		return nil
	}
	var ids []int32
	for _, n := range list.Children() {
		if v, ok := dmap.IntValue(n.Value); ok {
			ids = append(ids, int32(v))
		}
	}
	return ids
}

// decodePhoto maps one listing item onto a transient Photo.
func decodePhoto(item *dmap.Node) (*library.Photo, bool) {
	id, ok := item.Int("dmap.itemid")
	if !ok {
		return nil, false
	}
	p := &library.Photo{ID: int32(id)}
	p.Title, _ = item.Str("dmap.itemname")
	p.Author, _ = item.Str("daap.songartist")
	p.Album, _ = item.Str("daap.songalbum")
	p.Format, _ = item.Str("dpap.imageformat")
	p.FileName, _ = item.Str("dpap.imagefilename")
	if v, ok := item.Int("daap.songyear"); ok {
		p.Year = int(v)
	}
	if v, ok := item.Int("dpap.imagelargefilesize"); ok {
		p.Size = v
	}
	if v, ok := item.Int("dpap.imagefilesize"); ok {
		p.ThumbSize = v
	}
	if v, ok := item.Int("dpap.imagepixelwidth"); ok {
		p.Width = int(v)
	}
	if v, ok := item.Int("dpap.imagepixelheight"); ok {
		p.Height = int(v)
	}
	p.DateAdded = dateField(item, "dpap.creationdate")
	p.DateModified = dateField(item, "daap.songdatemodified")
	return p, true
}

func dateField(item *dmap.Node, name string) time.Time {
	n := item.Child(name)
	if n == nil {
		return time.Time{}
	}
	d, ok := n.Value.(dmap.Date)
	if !ok || d == 0 {
		return time.Time{}
	}
	return d.Time()
}
