package client

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/dpapctl/internal/library"
	"github.com/danmuck/dpapctl/internal/testutil/dpaptest"
	"github.com/danmuck/dpapctl/internal/testutil/testlog"
	"github.com/danmuck/dpapctl/internal/transport"
	"github.com/stretchr/testify/require"
)

type e2eFixture struct {
	server *dpaptest.Server
	db     *library.Database
	album  *library.Album
	addr   string
}

func newE2EFixture(t *testing.T) *e2eFixture {
	t.Helper()
	db := library.NewServerDatabase(1, 77, "Library")
	db.BindBaseAlbum(100, "Library")
	album := library.NewAlbum(10, "Trip")
	db.AddAlbum(album)
	for i, title := range []string{"a", "b", "c"} {
		p := fixturePhoto(int32(501+i), title)
		require.NoError(t, db.AddPhoto(p))
		album.Append(p, int32(i+1))
	}

	s := dpaptest.NewServer("e2e")
	s.Password = "secret"
	s.CheckValidation = true
	s.AddDatabase(db)
	s.SetFile(501, []byte("hires-bytes-501"), []byte("thumb-501"))

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &e2eFixture{server: s, db: db, album: album, addr: strings.TrimPrefix(ts.URL, "http://")}
}

func (fx *e2eFixture) client(t *testing.T, password string) *Client {
	t.Helper()
	tcfg := transport.DefaultConfig()
	tcfg.Address = fx.addr
	tcfg.Password = password
	tr, err := transport.New(tcfg)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.Password = password
	return New(cfg, tr)
}

func TestEndToEndSync(t *testing.T) {
	testlog.Start(t)
	fx := newE2EFixture(t)
	c := fx.client(t, "secret")
	ctx := context.Background()

	require.NoError(t, c.Login(ctx))
	require.Equal(t, fx.server.SessionID(), c.Session().ID)
	require.Equal(t, int32(1), c.Session().Revision)

	db := c.LookupDatabase(1)
	require.NotNil(t, db)
	require.Equal(t, 3, db.PhotoCount())
	trip := db.LookupAlbum(10)
	require.NotNil(t, trip)
	require.Equal(t, []int32{501, 502, 503}, photoIDs(trip.Photos()))
	require.Equal(t, "b", db.LookupPhoto(502).Title)

	for _, uri := range fx.server.Requests() {
		if strings.HasPrefix(uri, "/databases") {
			require.Contains(t, uri, "session-id=")
		}
	}

	fx.album.RemoveAt(1)
	fx.server.Bump()
	rev, err := c.Update(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(2), rev)
	require.NoError(t, c.RefreshAll(ctx, rev))
	require.Equal(t, []int32{501, 503}, photoIDs(trip.Photos()))
	require.Equal(t, int32(2), c.Session().Revision)

	rc, size, err := c.FetchPhoto(ctx, db, db.LookupPhoto(501), Hires, 0)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "hires-bytes-501", string(body))
	require.Equal(t, int64(len(body)), size)

	thumb, err := c.FetchThumbnail(ctx, db, db.LookupPhoto(501))
	require.NoError(t, err)
	require.Equal(t, "thumb-501", string(thumb))

	require.NoError(t, c.Logout(ctx))
	require.Equal(t, StateLoggedOut, c.State())
}

func TestEndToEndWrongPassword(t *testing.T) {
	testlog.Start(t)
	fx := newE2EFixture(t)
	c := fx.client(t, "nope")

	err := c.Login(context.Background())
	require.ErrorIs(t, err, ErrAuthentication)
	require.Equal(t, StateDisconnected, c.State())
}
