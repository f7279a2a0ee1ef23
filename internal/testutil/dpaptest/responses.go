// Package dpaptest builds protocol responses and serves them from an
// in-process photo-sharing server for tests.
package dpaptest

import (
	"time"

	"github.com/danmuck/dpapctl/internal/dmap"
	"github.com/danmuck/dpapctl/internal/library"
)

const statusOK = dmap.Long(200)

// Member is one album membership entry.
type Member struct {
	PhotoID     int32
	ContainerID int32
}

// AlbumEntry is one row of an album listing.
type AlbumEntry struct {
	ID   int32
	Name string
	Base bool
}

func ServerInfo(name string, major uint16) *dmap.Node {
	return dmap.NewContainer("dmap.serverinforesponse",
		dmap.New("dmap.status", statusOK),
		dmap.New("dmap.protocolversion", dmap.Version{Major: 2}),
		dmap.New("dpap.protocolversion", dmap.Version{Major: major, Minor: 1}),
		dmap.New("dmap.itemname", dmap.String(name)),
		dmap.New("dmap.loginrequired", dmap.Char(1)),
		dmap.New("dmap.supportsupdate", dmap.Char(1)),
		dmap.New("dmap.databasescount", dmap.Long(1)),
	)
}

func Login(sessionID int32) *dmap.Node {
	return dmap.NewContainer("dmap.loginresponse",
		dmap.New("dmap.status", statusOK),
		dmap.New("dmap.sessionid", dmap.Long(sessionID)),
	)
}

func Update(revision int32) *dmap.Node {
	return dmap.NewContainer("dmap.updateresponse",
		dmap.New("dmap.status", statusOK),
		dmap.New("dmap.serverrevision", dmap.Long(revision)),
	)
}

// Databases lists dbs as /databases does.
func Databases(dbs ...*library.Database) *dmap.Node {
	listing := dmap.NewContainer("dmap.listing")
	for _, db := range dbs {
		listing.Append(dmap.NewContainer("dmap.listingitem",
			dmap.New("dmap.itemid", dmap.Long(db.ID())),
			dmap.New("dmap.persistentid", dmap.LongLong(db.PersistentID())),
			dmap.New("dmap.itemname", dmap.String(db.Name())),
			dmap.New("dmap.itemcount", dmap.Long(int32(db.PhotoCount()))),
			dmap.New("dmap.containercount", dmap.Long(int32(len(db.Albums())+1))),
		))
	}
	return listingResponse("daap.serverdatabases", 0, listing, nil)
}

// Albums renders an album listing. A non-zero updateType marks a delta.
func Albums(updateType uint8, entries []AlbumEntry, deleted ...int32) *dmap.Node {
	listing := dmap.NewContainer("dmap.listing")
	for _, e := range entries {
		item := dmap.NewContainer("dmap.listingitem",
			dmap.New("dmap.itemid", dmap.Long(e.ID)),
			dmap.New("dmap.persistentid", dmap.LongLong(int64(e.ID))),
			dmap.New("dmap.itemname", dmap.String(e.Name)),
		)
		if e.Base {
			item.Append(dmap.New("daap.baseplaylist", dmap.Char(1)))
		}
		listing.Append(item)
	}
	return listingResponse("daap.databaseplaylists", updateType, listing, deleted)
}

// AlbumsOf lists the base album and every album of db.
func AlbumsOf(db *library.Database) []AlbumEntry {
	base := db.BaseAlbum()
	entries := []AlbumEntry{{ID: base.ID(), Name: base.Name(), Base: true}}
	for _, a := range db.Albums() {
		entries = append(entries, AlbumEntry{ID: a.ID(), Name: a.Name()})
	}
	return entries
}

// Members renders a membership listing (ids only).
func Members(updateType uint8, members []Member, deleted ...int32) *dmap.Node {
	listing := dmap.NewContainer("dmap.listing")
	for _, m := range members {
		listing.Append(dmap.NewContainer("dmap.listingitem",
			dmap.New("dmap.itemkind", dmap.Char(3)),
			dmap.New("dmap.itemid", dmap.Long(m.PhotoID)),
			dmap.New("dmap.containeritemid", dmap.Long(m.ContainerID)),
		))
	}
	return listingResponse("daap.playlistsongs", updateType, listing, deleted)
}

// MembersOf lists a's membership in order.
func MembersOf(a *library.Album) []Member {
	photos := a.Photos()
	cids := a.ContainerIDs()
	out := make([]Member, len(photos))
	for i, p := range photos {
		out[i] = Member{PhotoID: p.ID, ContainerID: cids[i]}
	}
	return out
}

// Photos renders a photo listing carrying full metadata.
func Photos(updateType uint8, photos []*library.Photo, deleted ...int32) *dmap.Node {
	listing := dmap.NewContainer("dmap.listing")
	for _, p := range photos {
		listing.Append(PhotoItem(p))
	}
	return listingResponse("daap.playlistsongs", updateType, listing, deleted)
}

// PhotoItem renders one photo's metadata.
func PhotoItem(p *library.Photo) *dmap.Node {
	return dmap.NewContainer("dmap.listingitem",
		dmap.New("dmap.itemkind", dmap.Char(3)),
		dmap.New("dmap.itemid", dmap.Long(p.ID)),
		dmap.New("dmap.itemname", dmap.String(p.Title)),
		dmap.New("daap.songartist", dmap.String(p.Author)),
		dmap.New("daap.songalbum", dmap.String(p.Album)),
		dmap.New("daap.songyear", dmap.Short(int16(p.Year))),
		dmap.New("dpap.imageformat", dmap.String(p.Format)),
		dmap.New("dpap.imagelargefilesize", dmap.Long(int32(p.Size))),
		dmap.New("dpap.imagefilesize", dmap.Long(int32(p.ThumbSize))),
		dmap.New("dpap.imagepixelwidth", dmap.Long(int32(p.Width))),
		dmap.New("dpap.imagepixelheight", dmap.Long(int32(p.Height))),
		dmap.New("dpap.creationdate", dateOf(p.DateAdded)),
		dmap.New("daap.songdatemodified", dateOf(p.DateModified)),
		dmap.New("dpap.imagefilename", dmap.String(p.FileName)),
	)
}

// FileData renders a single-photo response carrying data inline.
func FileData(photoID int32, data []byte) *dmap.Node {
	return dmap.NewContainer("daap.databasesongs",
		dmap.New("dmap.status", statusOK),
		dmap.New("dmap.updatetype", dmap.Char(0)),
		dmap.New("dmap.specifiedtotalcount", dmap.Long(1)),
		dmap.New("dmap.returnedcount", dmap.Long(1)),
		dmap.NewContainer("dmap.listing",
			dmap.NewContainer("dmap.listingitem",
				dmap.New("dmap.itemkind", dmap.Char(3)),
				dmap.New("dmap.itemid", dmap.Long(photoID)),
				dmap.New("dpap.filedata", dmap.FileData{Size: uint32(len(data)), Data: data}),
			),
		),
	)
}

func listingResponse(name string, updateType uint8, listing *dmap.Node, deleted []int32) *dmap.Node {
	n := int32(len(listing.Children()))
	resp := dmap.NewContainer(name,
		dmap.New("dmap.status", statusOK),
		dmap.New("dmap.updatetype", dmap.Char(updateType)),
		dmap.New("dmap.specifiedtotalcount", dmap.Long(n)),
		dmap.New("dmap.returnedcount", dmap.Long(n)),
		listing,
	)
	if len(deleted) > 0 {
		del := dmap.NewContainer("dmap.deletedidlisting")
		for _, id := range deleted {
			del.Append(dmap.New("dmap.itemid", dmap.Long(id)))
		}
		resp.Append(del)
	}
	return resp
}

func dateOf(t time.Time) dmap.Date {
	if t.IsZero() {
		return 0
	}
	return dmap.DateOf(t)
}
