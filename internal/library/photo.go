package library

import (
	"sync/atomic"
	"time"
)

var lastLocalID atomic.Int32

// NextLocalID returns a fresh id for photos that originate on this side.
func NextLocalID() int32 {
	return lastLocalID.Add(1)
}

// Photo is one image's metadata. ID is its identity.
type Photo struct {
	ID            int32
	Title         string
	Author        string
	Album         string
	Year          int
	Format        string
	Size          int64
	ThumbSize     int64
	Width         int
	Height        int
	DateAdded     time.Time
	DateModified  time.Time
	FileName      string
	ThumbnailName string
}

// Equal compares the fields whose change is worth an update.
func (p *Photo) Equal(o *Photo) bool {
	return p.Author == o.Author &&
		p.Album == o.Album &&
		p.Title == o.Title &&
		p.Year == o.Year &&
		p.Format == o.Format &&
		p.Size == o.Size &&
		p.DateAdded.Equal(o.DateAdded) &&
		p.DateModified.Equal(o.DateModified)
}

// copyFrom takes every metadata field from o, keeping p's identity.
func (p *Photo) copyFrom(o *Photo) {
	id := p.ID
	*p = *o
	p.ID = id
}
