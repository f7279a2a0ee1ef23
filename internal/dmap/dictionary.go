package dmap

import (
	"fmt"
	"sync"
)

// Dictionary maps tag numbers to names and wire types. It is mutated while a
// session logs in and is read-only afterwards; the lock only guards misuse.
type Dictionary struct {
	mu      sync.RWMutex
	entries []Tag
	index   map[uint32]int
}

func NewDictionary() *Dictionary {
	return &Dictionary{index: make(map[uint32]int)}
}

// Bootstrap returns a dictionary seeded with the codes this client speaks,
// including those needed to decode a content-codes response.
func Bootstrap() *Dictionary {
	d := NewDictionary()
	for _, t := range bootstrapTags {
		d.Add(Tag{Number: CodeNumber(t.code), Name: t.name, Type: t.typ})
	}
	return d
}

// Add inserts t, replacing any tag with the same number in place.
func (d *Dictionary) Add(t Tag) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i, ok := d.index[t.Number]; ok {
		d.entries[i] = t
		return
	}
	d.index[t.Number] = len(d.entries)
	d.entries = append(d.entries, t)
}

func (d *Dictionary) LookupNumber(n uint32) (Tag, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i, ok := d.index[n]
	if !ok {
		return Tag{}, false
	}
	return d.entries[i], true
}

// LookupName scans in insertion order and returns the first match.
func (d *Dictionary) LookupName(name string) (Tag, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, t := range d.entries {
		if t.Name == name {
			return t, true
		}
	}
	return Tag{}, false
}

func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Tags returns a copy of all entries in insertion order.
func (d *Dictionary) Tags() []Tag {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Tag, len(d.entries))
	copy(out, d.entries)
	return out
}

// Merge folds a decoded dmap.contentcodesresponse into d. Later entries win
// on number collision.
func (d *Dictionary) Merge(resp *Node) error {
	if resp == nil {
		return fmt.Errorf("dmap: merge: nil content codes response")
	}
	for _, entry := range resp.Children() {
		if entry.Name != "dmap.dictionary" {
			continue
		}
		num, ok := entry.Int("dmap.contentcodesnumber")
		if !ok {
			return fmt.Errorf("dmap: merge: dictionary entry missing dmap.contentcodesnumber")
		}
		name, ok := entry.Str("dmap.contentcodesname")
		if !ok || name == "" {
			return fmt.Errorf("dmap: merge: entry %q missing dmap.contentcodesname", NumberCode(uint32(num)))
		}
		typ, ok := entry.Int("dmap.contentcodestype")
		if !ok {
			return fmt.Errorf("dmap: merge: entry %q missing dmap.contentcodestype", name)
		}
		d.Add(Tag{Number: uint32(num), Name: name, Type: WireType(typ)})
	}
	return nil
}

// ContentCodesNode renders d as a content-codes response.
func (d *Dictionary) ContentCodesNode() *Node {
	resp := NewContainer("dmap.contentcodesresponse", New("dmap.status", Long(200)))
	for _, t := range d.Tags() {
		resp.Append(NewContainer("dmap.dictionary",
			New("dmap.contentcodesnumber", Long(int32(t.Number))),
			New("dmap.contentcodesname", String(t.Name)),
			New("dmap.contentcodestype", Short(int16(t.Type))),
		))
	}
	return resp
}

type seedTag struct {
	code string
	name string
	typ  WireType
}

var bootstrapTags = []seedTag{
	// content codes
	{"mstt", "dmap.status", TypeLong},
	{"msts", "dmap.statusstring", TypeString},
	{"mccr", "dmap.contentcodesresponse", TypeContainer},
	{"mdcl", "dmap.dictionary", TypeContainer},
	{"mcnm", "dmap.contentcodesnumber", TypeLong},
	{"mcna", "dmap.contentcodesname", TypeString},
	{"mcty", "dmap.contentcodestype", TypeShort},

	// server info, login, update
	{"msrv", "dmap.serverinforesponse", TypeContainer},
	{"mpro", "dmap.protocolversion", TypeVersion},
	{"ppro", "dpap.protocolversion", TypeVersion},
	{"minm", "dmap.itemname", TypeString},
	{"mslr", "dmap.loginrequired", TypeChar},
	{"msau", "dmap.authenticationmethod", TypeChar},
	{"mstm", "dmap.timeoutinterval", TypeLong},
	{"msal", "dmap.supportsautologout", TypeChar},
	{"msup", "dmap.supportsupdate", TypeChar},
	{"mspi", "dmap.supportspersistentids", TypeChar},
	{"msex", "dmap.supportsextensions", TypeChar},
	{"msbr", "dmap.supportsbrowse", TypeChar},
	{"msqy", "dmap.supportsquery", TypeChar},
	{"msix", "dmap.supportsindex", TypeChar},
	{"msrs", "dmap.supportsresolve", TypeChar},
	{"msdc", "dmap.databasescount", TypeLong},
	{"mlog", "dmap.loginresponse", TypeContainer},
	{"mlid", "dmap.sessionid", TypeLong},
	{"mupd", "dmap.updateresponse", TypeContainer},
	{"musr", "dmap.serverrevision", TypeLong},

	// listings
	{"muty", "dmap.updatetype", TypeChar},
	{"mtco", "dmap.specifiedtotalcount", TypeLong},
	{"mrco", "dmap.returnedcount", TypeLong},
	{"mlcl", "dmap.listing", TypeContainer},
	{"mlit", "dmap.listingitem", TypeContainer},
	{"mudl", "dmap.deletedidlisting", TypeContainer},
	{"mbcl", "dmap.bag", TypeContainer},
	{"miid", "dmap.itemid", TypeLong},
	{"mikd", "dmap.itemkind", TypeChar},
	{"mper", "dmap.persistentid", TypeLongLong},
	{"mcon", "dmap.container", TypeContainer},
	{"mcti", "dmap.containeritemid", TypeLong},
	{"mpco", "dmap.parentcontainerid", TypeLong},
	{"mimc", "dmap.itemcount", TypeLong},
	{"mctc", "dmap.containercount", TypeLong},

	// databases and albums
	{"avdb", "daap.serverdatabases", TypeContainer},
	{"aply", "daap.databaseplaylists", TypeContainer},
	{"abpl", "daap.baseplaylist", TypeChar},
	{"apso", "daap.playlistsongs", TypeContainer},
	{"adbs", "daap.databasesongs", TypeContainer},
	{"asar", "daap.songartist", TypeString},
	{"asal", "daap.songalbum", TypeString},
	{"asyr", "daap.songyear", TypeShort},
	{"asda", "daap.songdateadded", TypeDate},
	{"asdm", "daap.songdatemodified", TypeDate},

	// photo attributes
	{"pasp", "dpap.aspectratio", TypeString},
	{"picd", "dpap.creationdate", TypeDate},
	{"pimf", "dpap.imagefilename", TypeString},
	{"pfmt", "dpap.imageformat", TypeString},
	{"pifs", "dpap.imagefilesize", TypeLong},
	{"plsz", "dpap.imagelargefilesize", TypeLong},
	{"phgt", "dpap.imagepixelheight", TypeLong},
	{"pwth", "dpap.imagepixelwidth", TypeLong},
	{"prat", "dpap.imagerating", TypeLong},
	{"pcmt", "dpap.imagecomments", TypeString},
	{"pfdt", "dpap.filedata", TypeFileData},
}
