package library

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/dpapctl/internal/testutil/testlog"
)

func TestAddPhotoMirrorsIntoBaseAlbum(t *testing.T) {
	testlog.Start(t)
	db := NewServerDatabase(1, 77, "Shared")
	p := &Photo{ID: 10, Title: "sunset"}
	if err := db.AddPhoto(p); err != nil {
		t.Fatalf("add photo: %v", err)
	}
	base := db.BaseAlbum()
	if base.Len() != 1 {
		t.Fatalf("expected base album to mirror photo, len=%d", base.Len())
	}
	got, cid, ok := base.At(0)
	if !ok || got != p || cid != 10 {
		t.Fatalf("unexpected base entry: %v %d %v", got, cid, ok)
	}
	if err := db.AddPhoto(&Photo{ID: 10}); !errors.Is(err, ErrDuplicatePhoto) {
		t.Fatalf("expected ErrDuplicatePhoto, got %v", err)
	}
}

func TestLocalPhotoIDsIncrease(t *testing.T) {
	testlog.Start(t)
	db := NewDatabase("local")
	if db.IsServerBound() {
		t.Fatalf("local database must not be server bound")
	}
	a, b := &Photo{}, &Photo{}
	if err := db.AddPhoto(a); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := db.AddPhoto(b); err != nil {
		t.Fatalf("add: %v", err)
	}
	if a.ID <= 0 || b.ID <= a.ID {
		t.Fatalf("ids not increasing: %d, %d", a.ID, b.ID)
	}
}

func TestRemovePhotoCascades(t *testing.T) {
	testlog.Start(t)
	db := NewServerDatabase(1, 0, "Shared")
	p := &Photo{ID: 5}
	q := &Photo{ID: 6}
	_ = db.AddPhoto(p)
	_ = db.AddPhoto(q)

	album := NewAlbum(100, "Trip")
	db.AddAlbum(album)
	album.Append(p, 1)
	album.Append(q, 2)
	album.Append(p, 3)

	if got := db.RemovePhoto(5); got != p {
		t.Fatalf("unexpected removed photo: %v", got)
	}
	if db.LookupPhoto(5) != nil || db.PhotoCount() != 1 {
		t.Fatalf("photo still in database")
	}
	if album.Len() != 1 || album.ContainerIDs()[0] != 2 {
		t.Fatalf("album membership not cascaded: %v", album.ContainerIDs())
	}
	if db.BaseAlbum().Len() != 1 {
		t.Fatalf("base album not cascaded")
	}
	if db.RemovePhoto(5) != nil {
		t.Fatalf("second removal should be a no-op")
	}
}

func TestUpdatePhotoSuppressesEqual(t *testing.T) {
	testlog.Start(t)
	db := NewServerDatabase(1, 0, "Shared")
	added := time.Date(2020, 1, 2, 3, 4, 5, 0, time.Local)
	p := &Photo{ID: 3, Title: "a", Size: 10, DateAdded: added, Width: 4}
	_ = db.AddPhoto(p)

	same := &Photo{ID: 3, Title: "a", Size: 10, DateAdded: added, Width: 999}
	if db.UpdatePhoto(p, same) {
		t.Fatalf("update with equal tracked fields must be suppressed")
	}
	if p.Width != 4 {
		t.Fatalf("suppressed update mutated photo")
	}

	changed := &Photo{ID: 99, Title: "b", Size: 10, DateAdded: added, Width: 8}
	if !db.UpdatePhoto(p, changed) {
		t.Fatalf("expected update")
	}
	if p.ID != 3 || p.Title != "b" || p.Width != 8 {
		t.Fatalf("update not applied in place: %+v", p)
	}
	if db.LookupPhoto(3) != p {
		t.Fatalf("identity not preserved")
	}
}

func TestAlbumInsertAndRemove(t *testing.T) {
	testlog.Start(t)
	a := NewAlbum(1, "x")
	p1, p2, p3 := &Photo{ID: 1}, &Photo{ID: 2}, &Photo{ID: 3}
	a.Append(p1, 10)
	a.Append(p3, 30)
	a.Insert(1, p2, 20)
	if got := a.ContainerIDs(); len(got) != 3 || got[0] != 10 || got[1] != 20 || got[2] != 30 {
		t.Fatalf("unexpected order: %v", got)
	}
	if a.IndexOfContainer(30) != 2 || a.IndexOfContainer(99) != -1 {
		t.Fatalf("index lookup failed")
	}
	if a.RemoveAt(0) != p1 || a.Len() != 2 {
		t.Fatalf("remove failed")
	}
	if a.RemoveAt(5) != nil {
		t.Fatalf("out of range remove should return nil")
	}
	if a.SetName("x") || !a.SetName("y") || a.Name() != "y" {
		t.Fatalf("rename semantics broken")
	}
}

func TestRemoveAlbum(t *testing.T) {
	testlog.Start(t)
	db := NewServerDatabase(1, 0, "Shared")
	db.AddAlbum(NewAlbum(4, "a"))
	db.AddAlbum(NewAlbum(5, "b"))
	if db.RemoveAlbum(4) == nil || db.LookupAlbum(4) != nil {
		t.Fatalf("album not removed")
	}
	if db.RemoveAlbum(4) != nil {
		t.Fatalf("double removal should return nil")
	}
	s := db.Summary()
	if len(s.Albums) != 1 || s.Albums[0].ID != 5 || s.Local {
		t.Fatalf("unexpected summary: %+v", s)
	}
}
