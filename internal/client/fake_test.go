package client

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/dpapctl/internal/dmap"
	"github.com/danmuck/dpapctl/internal/library"
	"github.com/danmuck/dpapctl/internal/testutil/dpaptest"
	"github.com/danmuck/dpapctl/internal/transport"
)

type fakeCall struct {
	path  string
	query string
}

// fakeTransport answers each path with a canned tree. Membership and photo
// listings share a path and are told apart by their meta list.
type fakeTransport struct {
	mu        sync.Mutex
	dict      *dmap.Dictionary
	routes    map[string]*dmap.Node
	photos    map[string]*dmap.Node
	errs      map[string]error
	calls     []fakeCall
	streams   int
	cancelled int
}

func newFakeTransport() *fakeTransport {
	f := &fakeTransport{
		dict:   dmap.Bootstrap(),
		routes: make(map[string]*dmap.Node),
		photos: make(map[string]*dmap.Node),
		errs:   make(map[string]error),
	}
	f.routes["/server-info"] = dpaptest.ServerInfo("fake", 3)
	f.routes["/content-codes"] = f.dict.ContentCodesNode()
	f.routes["/login"] = dpaptest.Login(77)
	f.routes["/update"] = dpaptest.Update(5)
	f.routes["/logout"] = dmap.NewContainer("dmap.loginresponse")
	return f
}

func (f *fakeTransport) set(path string, n *dmap.Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[path] = n
}

func (f *fakeTransport) setPhotos(path string, n *dmap.Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos[path] = n
}

func (f *fakeTransport) fail(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[path] = err
}

func (f *fakeTransport) callsTo(path string) []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeCall
	for _, c := range f.calls {
		if c.path == path {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeTransport) Fetch(ctx context.Context, path, query string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{path: path, query: query})
	if err := f.errs[path]; err != nil {
		return nil, err
	}
	n := f.routes[path]
	if strings.Contains(query, "dmap.itemname") && f.photos[path] != nil {
		n = f.photos[path]
	}
	if n == nil {
		return nil, &transport.StatusError{Code: 404, Path: path}
	}
	return dmap.Encode(f.dict, n)
}

func (f *fakeTransport) FetchStream(ctx context.Context, req transport.StreamRequest) (*transport.StreamResponse, error) {
	f.mu.Lock()
	f.streams++
	f.mu.Unlock()
	body, err := f.Fetch(ctx, req.Path, req.Query)
	if err != nil {
		return nil, err
	}
	if req.Offset > 0 {
		body = body[req.Offset:]
	}
	return &transport.StreamResponse{Status: 200, Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeTransport) CancelAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
}

// recorder collects events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []library.Event
	notify chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 64)}
}

func (r *recorder) Notify(e library.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *recorder) all() []library.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]library.Event(nil), r.events...)
}

func (r *recorder) of(kind library.EventKind) []library.Event {
	var out []library.Event
	for _, e := range r.all() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

var fixtureDate = time.Date(2024, time.March, 9, 14, 30, 0, 0, time.Local)

func fixturePhoto(id int32, title string) *library.Photo {
	return &library.Photo{
		ID:           id,
		Title:        title,
		Author:       "ana",
		Album:        "Trip",
		Year:         2024,
		Format:       "JPEG",
		Size:         2048,
		ThumbSize:    128,
		Width:        640,
		Height:       480,
		DateAdded:    fixtureDate,
		DateModified: fixtureDate.Add(time.Hour),
		FileName:     title + ".jpg",
	}
}

const (
	dbPath      = "/databases/1/containers"
	tripPath    = "/databases/1/containers/10/items"
	basePath    = "/databases/1/containers/100/items"
	libraryName = "Library"
)

// seedLibrary serves one database with a base album (100) holding photos
// 501..503 and a user album "Trip" (10) listing them at container ids 1..3.
func seedLibrary(f *fakeTransport) []*library.Photo {
	photos := []*library.Photo{
		fixturePhoto(501, "a"),
		fixturePhoto(502, "b"),
		fixturePhoto(503, "c"),
	}
	f.set("/databases", dpaptest.Databases(library.NewServerDatabase(1, 9001, libraryName)))
	f.set(dbPath, dpaptest.Albums(0, []dpaptest.AlbumEntry{
		{ID: 100, Name: libraryName, Base: true},
		{ID: 10, Name: "Trip"},
	}))
	f.set(tripPath, dpaptest.Members(0, []dpaptest.Member{member(501, 1), member(502, 2), member(503, 3)}))
	f.setPhotos(tripPath, dpaptest.Photos(0, photos))
	f.set(basePath, dpaptest.Members(0, []dpaptest.Member{member(501, 501), member(502, 502), member(503, 503)}))
	f.setPhotos(basePath, dpaptest.Photos(0, photos))
	return photos
}

func member(photoID, containerID int32) dpaptest.Member {
	return dpaptest.Member{PhotoID: photoID, ContainerID: containerID}
}

func newTestClient(f *fakeTransport) (*Client, *recorder) {
	c := New(DefaultConfig(), f)
	rec := newRecorder()
	c.Subscribe(rec)
	return c, rec
}

func photoIDs(photos []*library.Photo) []int32 {
	out := make([]int32, len(photos))
	for i, p := range photos {
		out[i] = p.ID
	}
	return out
}
