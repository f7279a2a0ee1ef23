package dpaptest

import (
	"bytes"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/danmuck/dpapctl/internal/auth"
	"github.com/danmuck/dpapctl/internal/dmap"
	"github.com/danmuck/dpapctl/internal/library"
	"github.com/gin-gonic/gin"
)

const contentType = "application/x-dmap-tagged"

var itemQuery = regexp.MustCompile(`dmap\.itemid:(\d+)`)

// Server is a minimal photo-sharing server over library objects. Tests
// mutate the databases directly and call Bump to publish a new revision.
type Server struct {
	Name          string
	Password      string
	ProtocolMajor uint16
	// CheckValidation rejects requests whose validation header is wrong.
	CheckValidation bool

	mu        sync.Mutex
	dict      *dmap.Dictionary
	sessionID int32
	revision  int32
	databases []*library.Database
	files     map[int32][]byte
	thumbs    map[int32][]byte
	requests  []string
	router    *gin.Engine
}

func NewServer(name string) *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		Name:          name,
		ProtocolMajor: 3,
		dict:          dmap.Bootstrap(),
		sessionID:     4242,
		revision:      1,
		files:         make(map[int32][]byte),
		thumbs:        make(map[int32][]byte),
	}
	r := gin.New()
	r.Use(gin.Recovery(), s.record, s.validate)
	r.GET("/server-info", s.handleServerInfo)
	r.GET("/content-codes", s.handleContentCodes)
	r.GET("/login", s.handleLogin)

	authed := r.Group("/", s.requireSession)
	authed.GET("/logout", s.handleLogout)
	authed.GET("/update", s.handleUpdate)
	authed.GET("/databases", s.handleDatabases)
	authed.GET("/databases/:db/containers", s.handleAlbums)
	authed.GET("/databases/:db/containers/:album/items", s.handleAlbumItems)
	authed.GET("/databases/:db/items", s.handleItems)
	s.router = r
	return s
}

// Handler serves the protocol endpoints.
func (s *Server) Handler() http.Handler {
	return s.router
}

// AddDatabase publishes db. Its base album must already be bound.
func (s *Server) AddDatabase(db *library.Database) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.databases = append(s.databases, db)
}

// SetFile stores the bytes served for a photo rendition.
func (s *Server) SetFile(photoID int32, hires, thumb []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[photoID] = hires
	s.thumbs[photoID] = thumb
}

// Bump advances the server revision.
func (s *Server) Bump() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revision++
	return s.revision
}

func (s *Server) SessionID() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Requests returns every request URI served so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Server) record(c *gin.Context) {
	s.mu.Lock()
	s.requests = append(s.requests, c.Request.RequestURI)
	s.mu.Unlock()
	c.Next()
}

func (s *Server) validate(c *gin.Context) {
	got := c.GetHeader(auth.HeaderValidation)
	if !s.CheckValidation || got == "" || c.Request.URL.Path == "/server-info" {
		c.Next()
		return
	}
	rid, _ := strconv.Atoi(c.GetHeader(auth.HeaderRequestID))
	sel, _ := strconv.Atoi(c.GetHeader(auth.HeaderAccessIdx))
	want := auth.Hash(int(s.ProtocolMajor), c.Request.RequestURI, sel, rid)
	if got != want {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}
	c.Next()
}

func (s *Server) requireSession(c *gin.Context) {
	sid, err := strconv.Atoi(c.Query("session-id"))
	if err != nil || int32(sid) != s.SessionID() {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}
	c.Next()
}

func (s *Server) write(c *gin.Context, n *dmap.Node) {
	var buf bytes.Buffer
	if err := dmap.EncodeTo(&buf, s.dict, n); err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	body := buf.Bytes()
	status := http.StatusOK
	if off, ok := rangeStart(c.GetHeader("Range")); ok && off < int64(len(body)) {
		body = body[off:]
		status = http.StatusPartialContent
	}
	c.Data(status, contentType, body)
}

func rangeStart(h string) (int64, bool) {
	spec, ok := strings.CutPrefix(h, "bytes=")
	if !ok {
		return 0, false
	}
	start, _, _ := strings.Cut(spec, "-")
	off, err := strconv.ParseInt(start, 10, 64)
	if err != nil || off < 0 {
		return 0, false
	}
	return off, true
}

func (s *Server) handleServerInfo(c *gin.Context) {
	s.write(c, ServerInfo(s.Name, s.ProtocolMajor))
}

func (s *Server) handleContentCodes(c *gin.Context) {
	s.write(c, s.dict.ContentCodesNode())
}

func (s *Server) handleLogin(c *gin.Context) {
	if s.Password != "" {
		_, basic, _ := c.Request.BasicAuth()
		if basic != s.Password && c.Query("password") != s.Password {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
	}
	s.write(c, Login(s.SessionID()))
}

func (s *Server) handleLogout(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func (s *Server) handleUpdate(c *gin.Context) {
	s.mu.Lock()
	rev := s.revision
	s.mu.Unlock()
	s.write(c, Update(rev))
}

func (s *Server) handleDatabases(c *gin.Context) {
	s.mu.Lock()
	dbs := append([]*library.Database(nil), s.databases...)
	s.mu.Unlock()
	s.write(c, Databases(dbs...))
}

func (s *Server) handleAlbums(c *gin.Context) {
	db := s.lookupDatabase(c.Param("db"))
	if db == nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	s.write(c, Albums(0, AlbumsOf(db)))
}

func (s *Server) handleAlbumItems(c *gin.Context) {
	db := s.lookupDatabase(c.Param("db"))
	if db == nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	id, err := strconv.Atoi(c.Param("album"))
	if err != nil {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	a := db.LookupAlbum(int32(id))
	if a == nil && db.BaseAlbum().ID() == int32(id) {
		a = db.BaseAlbum()
	}
	if a == nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	if strings.Contains(c.Query("meta"), "dmap.itemname") {
		s.write(c, Photos(0, a.Photos()))
		return
	}
	s.write(c, Members(0, MembersOf(a)))
}

func (s *Server) handleItems(c *gin.Context) {
	db := s.lookupDatabase(c.Param("db"))
	if db == nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	m := itemQuery.FindStringSubmatch(c.Query("query"))
	if m == nil {
		s.write(c, Photos(0, db.Photos()))
		return
	}
	id, _ := strconv.Atoi(m[1])
	s.mu.Lock()
	data, ok := s.files[int32(id)]
	if strings.Contains(c.Query("meta"), "dpap.thumb") {
		data, ok = s.thumbs[int32(id)]
	}
	s.mu.Unlock()
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	s.write(c, FileData(int32(id), data))
}

func (s *Server) lookupDatabase(param string) *library.Database {
	id, err := strconv.Atoi(param)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, db := range s.databases {
		if db.ID() == int32(id) {
			return db
		}
	}
	return nil
}
