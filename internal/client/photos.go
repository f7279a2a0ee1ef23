package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/danmuck/dpapctl/internal/dmap"
	"github.com/danmuck/dpapctl/internal/library"
	"github.com/danmuck/dpapctl/internal/transport"
	"github.com/jellydator/ttlcache/v3"
)

// Resolution selects which rendition of a photo to stream.
type Resolution int

const (
	Hires Resolution = iota
	Thumbnail
)

func (r Resolution) meta() string {
	if r == Thumbnail {
		return "dpap.thumb"
	}
	return "dpap.hires"
}

// FetchPhoto streams one rendition of p. The reader yields only the image
// bytes and must be closed by the caller.
func (c *Client) FetchPhoto(ctx context.Context, db *library.Database, p *library.Photo, res Resolution, offset int64) (io.ReadCloser, int64, error) {
	if !db.IsServerBound() {
		return nil, 0, ErrNotServerBound
	}
	dict, err := c.dictionary()
	if err != nil {
		return nil, 0, err
	}
	req := transport.StreamRequest{
		Path: "/databases/" + strconv.Itoa(int(db.ID())) + "/items",
		Query: c.query(
			"meta="+res.meta()+",dmap.itemid,dpap.filedata",
			fmt.Sprintf("query=('dmap.itemid:%d')", p.ID),
		),
		Offset: offset,
	}
	resp, err := c.transport.FetchStream(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	if offset > 0 {
		// a ranged response resumes inside the file bytes
		return resp.Body, -1, nil
	}
	data, size, err := dmap.FindFileData(dict, resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("client: photo %d: %w", p.ID, err)
	}
	return &payloadReader{Reader: data, closer: resp.Body}, int64(size), nil
}

// FetchThumbnail returns the thumbnail bytes, served from cache when a
// recent copy is held.
func (c *Client) FetchThumbnail(ctx context.Context, db *library.Database, p *library.Photo) ([]byte, error) {
	key := thumbKey{db: db.ID(), photo: p.ID}
	if item := c.thumbs.Get(key); item != nil {
		return item.Value(), nil
	}
	rc, size, err := c.FetchPhoto(ctx, db, p, Thumbnail, 0)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, fmt.Errorf("client: thumbnail %d: %w", p.ID, err)
	}
	c.thumbs.Set(key, buf.Bytes(), ttlcache.DefaultTTL)
	return buf.Bytes(), nil
}

type payloadReader struct {
	io.Reader
	closer io.Closer
}

func (r *payloadReader) Close() error {
	return r.closer.Close()
}
