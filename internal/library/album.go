package library

import "sync"

// Album is an ordered photo membership. containerIDs[i] is the server's
// per-album instance id of photos[i].
type Album struct {
	id           int32
	name         string
	photos       []*Photo
	containerIDs []int32
	db           *Database
}

func NewAlbum(id int32, name string) *Album {
	return &Album{id: id, name: name}
}

func (a *Album) locker() sync.Locker {
	if a.db == nil {
		return noLock{}
	}
	return &a.db.mu
}

func (a *Album) rlocker() sync.Locker {
	if a.db == nil {
		return noLock{}
	}
	return a.db.mu.RLocker()
}

func (a *Album) ID() int32 {
	l := a.rlocker()
	l.Lock()
	defer l.Unlock()
	return a.id
}

func (a *Album) Name() string {
	l := a.rlocker()
	l.Lock()
	defer l.Unlock()
	return a.name
}

// SetName reports whether the name changed.
func (a *Album) SetName(name string) bool {
	l := a.locker()
	l.Lock()
	defer l.Unlock()
	if a.name == name {
		return false
	}
	a.name = name
	return true
}

func (a *Album) Len() int {
	l := a.rlocker()
	l.Lock()
	defer l.Unlock()
	return len(a.photos)
}

func (a *Album) Photos() []*Photo {
	l := a.rlocker()
	l.Lock()
	defer l.Unlock()
	out := make([]*Photo, len(a.photos))
	copy(out, a.photos)
	return out
}

func (a *Album) ContainerIDs() []int32 {
	l := a.rlocker()
	l.Lock()
	defer l.Unlock()
	out := make([]int32, len(a.containerIDs))
	copy(out, a.containerIDs)
	return out
}

// At returns the photo and container id at position i.
func (a *Album) At(i int) (*Photo, int32, bool) {
	l := a.rlocker()
	l.Lock()
	defer l.Unlock()
	if i < 0 || i >= len(a.photos) {
		return nil, 0, false
	}
	return a.photos[i], a.containerIDs[i], true
}

// IndexOfContainer locates a membership entry by its container id.
func (a *Album) IndexOfContainer(containerID int32) int {
	l := a.rlocker()
	l.Lock()
	defer l.Unlock()
	return a.indexOfContainerLocked(containerID)
}

func (a *Album) Append(p *Photo, containerID int32) {
	l := a.locker()
	l.Lock()
	defer l.Unlock()
	a.insertLocked(len(a.photos), p, containerID)
}

// Insert places p at position i, clamped to the current length.
func (a *Album) Insert(i int, p *Photo, containerID int32) {
	l := a.locker()
	l.Lock()
	defer l.Unlock()
	a.insertLocked(i, p, containerID)
}

// RemoveAt drops the entry at i and returns its photo.
func (a *Album) RemoveAt(i int) *Photo {
	l := a.locker()
	l.Lock()
	defer l.Unlock()
	return a.removeAtLocked(i)
}

func (a *Album) indexOfContainerLocked(containerID int32) int {
	for i, cid := range a.containerIDs {
		if cid == containerID {
			return i
		}
	}
	return -1
}

func (a *Album) insertLocked(i int, p *Photo, containerID int32) {
	if i < 0 {
		i = 0
	}
	if i > len(a.photos) {
		i = len(a.photos)
	}
	a.photos = append(a.photos, nil)
	copy(a.photos[i+1:], a.photos[i:])
	a.photos[i] = p
	a.containerIDs = append(a.containerIDs, 0)
	copy(a.containerIDs[i+1:], a.containerIDs[i:])
	a.containerIDs[i] = containerID
}

func (a *Album) removeAtLocked(i int) *Photo {
	if i < 0 || i >= len(a.photos) {
		return nil
	}
	p := a.photos[i]
	a.photos = append(a.photos[:i], a.photos[i+1:]...)
	a.containerIDs = append(a.containerIDs[:i], a.containerIDs[i+1:]...)
	return p
}

// removePhotoLocked drops every entry holding p and returns how many.
func (a *Album) removePhotoLocked(p *Photo) int {
	removed := 0
	for i := len(a.photos) - 1; i >= 0; i-- {
		if a.photos[i] == p {
			a.removeAtLocked(i)
			removed++
		}
	}
	return removed
}

type noLock struct{}

func (noLock) Lock()   {}
func (noLock) Unlock() {}
