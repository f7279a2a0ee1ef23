package library

import (
	"errors"
	"sync"
)

var ErrDuplicatePhoto = errors.New("library: photo id already present")

// Database mirrors one server database, or holds local photos when unbound.
type Database struct {
	mu           sync.RWMutex
	id           int32
	persistentID int64
	name         string
	bound        bool
	photos       []*Photo
	byID         map[int32]*Photo
	albums       []*Album
	base         *Album
}

// NewDatabase builds a local database with no server binding.
func NewDatabase(name string) *Database {
	return newDatabase(0, 0, name, false)
}

// NewServerDatabase builds a database bound to a server-side id.
func NewServerDatabase(id int32, persistentID int64, name string) *Database {
	return newDatabase(id, persistentID, name, true)
}

func newDatabase(id int32, persistentID int64, name string, bound bool) *Database {
	db := &Database{
		id:           id,
		persistentID: persistentID,
		name:         name,
		bound:        bound,
		byID:         make(map[int32]*Photo),
	}
	db.base = &Album{name: name, db: db}
	return db
}

func (db *Database) ID() int32 { return db.id }

func (db *Database) PersistentID() int64 { return db.persistentID }

// IsServerBound reports whether db can be refreshed from a server.
func (db *Database) IsServerBound() bool { return db.bound }

func (db *Database) Name() string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.name
}

func (db *Database) SetName(name string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.name == name {
		return false
	}
	db.name = name
	return true
}

// BaseAlbum holds every photo in the database.
func (db *Database) BaseAlbum() *Album {
	return db.base
}

// BindBaseAlbum records the server id and name of the base album.
func (db *Database) BindBaseAlbum(id int32, name string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.base.id == id && db.base.name == name {
		return false
	}
	db.base.id = id
	db.base.name = name
	return true
}

func (db *Database) Photos() []*Photo {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]*Photo, len(db.photos))
	copy(out, db.photos)
	return out
}

func (db *Database) PhotoCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.photos)
}

func (db *Database) LookupPhoto(id int32) *Photo {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.byID[id]
}

// AddPhoto appends p and mirrors it into the base album. A zero id is
// replaced with a locally generated one.
func (db *Database) AddPhoto(p *Photo) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if p.ID == 0 {
		p.ID = NextLocalID()
	}
	if _, ok := db.byID[p.ID]; ok {
		return ErrDuplicatePhoto
	}
	db.photos = append(db.photos, p)
	db.byID[p.ID] = p
	db.base.insertLocked(len(db.base.photos), p, p.ID)
	return nil
}

// RemovePhoto drops the photo from the database and from every album.
func (db *Database) RemovePhoto(id int32) *Photo {
	db.mu.Lock()
	defer db.mu.Unlock()
	p, ok := db.byID[id]
	if !ok {
		return nil
	}
	delete(db.byID, id)
	for i, existing := range db.photos {
		if existing == p {
			db.photos = append(db.photos[:i], db.photos[i+1:]...)
			break
		}
	}
	db.base.removePhotoLocked(p)
	for _, a := range db.albums {
		a.removePhotoLocked(p)
	}
	return p
}

// UpdatePhoto copies from into existing when any tracked field differs.
func (db *Database) UpdatePhoto(existing, from *Photo) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	if existing.Equal(from) {
		return false
	}
	existing.copyFrom(from)
	return true
}

func (db *Database) Albums() []*Album {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]*Album, len(db.albums))
	copy(out, db.albums)
	return out
}

func (db *Database) LookupAlbum(id int32) *Album {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, a := range db.albums {
		if a.id == id {
			return a
		}
	}
	return nil
}

// AddAlbum attaches a to db. Members already in a must be database photos.
func (db *Database) AddAlbum(a *Album) {
	db.mu.Lock()
	defer db.mu.Unlock()
	a.db = db
	db.albums = append(db.albums, a)
}

func (db *Database) RemoveAlbum(id int32) *Album {
	db.mu.Lock()
	defer db.mu.Unlock()
	for i, a := range db.albums {
		if a.id == id {
			db.albums = append(db.albums[:i], db.albums[i+1:]...)
			return a
		}
	}
	return nil
}

// Summary is a point-in-time description of a database.
type Summary struct {
	ID         int32          `json:"id"`
	Name       string         `json:"name"`
	Local      bool           `json:"local"`
	PhotoCount int            `json:"photo_count"`
	Albums     []AlbumSummary `json:"albums"`
}

type AlbumSummary struct {
	ID         int32  `json:"id"`
	Name       string `json:"name"`
	PhotoCount int    `json:"photo_count"`
}

func (db *Database) Summary() Summary {
	db.mu.RLock()
	defer db.mu.RUnlock()
	s := Summary{
		ID:         db.id,
		Name:       db.name,
		Local:      !db.bound,
		PhotoCount: len(db.photos),
		Albums:     make([]AlbumSummary, 0, len(db.albums)),
	}
	for _, a := range db.albums {
		s.Albums = append(s.Albums, AlbumSummary{ID: a.id, Name: a.name, PhotoCount: len(a.photos)})
	}
	return s
}
