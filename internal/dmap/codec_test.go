package dmap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/dpapctl/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
)

func sampleTree() *Node {
	return NewContainer("daap.databaseplaylists",
		New("dmap.status", Long(200)),
		New("dmap.updatetype", Char(0)),
		New("dmap.specifiedtotalcount", Long(2)),
		New("dpap.protocolversion", Version{Major: 1, Minor: 1, Build: 0}),
		NewContainer("dmap.listing",
			NewContainer("dmap.listingitem",
				New("dmap.itemid", Long(-7)),
				New("dmap.persistentid", LongLong(0x1122334455667788)),
				New("dmap.itemname", String("Holidays ü")),
				New("daap.baseplaylist", Char(1)),
				New("daap.songyear", Short(-2)),
				New("dpap.creationdate", Date(1234567890)),
			),
			NewContainer("dmap.listingitem"),
		),
	)
}

func TestRoundTripAllWireTypes(t *testing.T) {
	testlog.Start(t)
	dict := Bootstrap()
	dict.Add(Tag{Number: CodeNumber("xsgl"), Name: "test.signed", Type: TypeSignedLong})

	in := sampleTree()
	in.Append(New("test.signed", SignedLong(-123456)))

	b, err := Encode(dict, in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(dict, b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round-trip mismatch (-want +got):\n%s", diff)
	}

	b2, err := Encode(dict, out)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(b, b2) {
		t.Fatalf("re-encoded bytes differ")
	}
}

func TestEncodeLayout(t *testing.T) {
	testlog.Start(t)
	dict := Bootstrap()
	b, err := Encode(dict, NewContainer("dmap.loginresponse",
		New("dmap.status", Long(200)),
		New("dmap.itemname", String("é")),
	))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{
		'm', 'l', 'o', 'g', 0, 0, 0, 22,
		'm', 's', 't', 't', 0, 0, 0, 4, 0, 0, 0, 200,
		'm', 'i', 'n', 'm', 0, 0, 0, 2, 0xc3, 0xa9,
	}
	if !bytes.Equal(b, want) {
		t.Fatalf("unexpected bytes:\n got %v\nwant %v", b, want)
	}
}

func TestEncodeUnknownName(t *testing.T) {
	testlog.Start(t)
	_, err := Encode(Bootstrap(), New("dmap.nosuchthing", Long(1)))
	var unknown *UnknownTagNameError
	if !errors.As(err, &unknown) || unknown.Name != "dmap.nosuchthing" {
		t.Fatalf("expected UnknownTagNameError, got %v", err)
	}
	if !errors.Is(err, ErrUnknownTag) {
		t.Fatalf("expected ErrUnknownTag chain, got %v", err)
	}
}

func TestEncodeValueMismatch(t *testing.T) {
	testlog.Start(t)
	_, err := Encode(Bootstrap(), New("dmap.itemname", Long(1)))
	if !errors.Is(err, ErrValueMismatch) {
		t.Fatalf("expected ErrValueMismatch, got %v", err)
	}
}

func TestEncodeUnsupportedType(t *testing.T) {
	testlog.Start(t)
	dict := Bootstrap()
	dict.Add(Tag{Number: CodeNumber("xodd"), Name: "test.odd", Type: WireType(4)})
	_, err := Encode(dict, New("test.odd", Short(1)))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestDecodeUnknownNumber(t *testing.T) {
	testlog.Start(t)
	buf := tlvBytes("zzzz", []byte{1, 2, 3, 4})
	_, err := Decode(Bootstrap(), buf)
	var unknown *UnknownTagNumberError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownTagNumberError, got %v", err)
	}
	if unknown.Number != CodeNumber("zzzz") || unknown.Offset != 0 {
		t.Fatalf("unexpected error detail: %+v", unknown)
	}
}

func TestDecodeLengthPastBuffer(t *testing.T) {
	testlog.Start(t)
	inner := tlvBytes("minm", []byte("abc"))
	// claim two more bytes than remain in the final child
	binary.BigEndian.PutUint32(inner[4:8], 5)
	buf := tlvBytes("mlit", inner)

	_, err := Decode(Bootstrap(), buf)
	if !errors.Is(err, ErrFraming) {
		t.Fatalf("expected ErrFraming, got %v", err)
	}
	var framing *FramingError
	if !errors.As(err, &framing) || framing.Need != 5 || framing.Have != 3 {
		t.Fatalf("unexpected framing detail: %v", err)
	}
}

func TestDecodeTruncatedHeader(t *testing.T) {
	testlog.Start(t)
	_, err := Decode(Bootstrap(), []byte{'m', 'l', 'i'})
	if !errors.Is(err, ErrFraming) {
		t.Fatalf("expected ErrFraming, got %v", err)
	}
}

func TestDecodeBadScalarLength(t *testing.T) {
	testlog.Start(t)
	_, err := Decode(Bootstrap(), tlvBytes("mstt", []byte{0, 200}))
	if !errors.Is(err, ErrFraming) {
		t.Fatalf("expected ErrFraming, got %v", err)
	}
}

func TestDecodeTrailingBytes(t *testing.T) {
	testlog.Start(t)
	buf := append(tlvBytes("mstt", []byte{0, 0, 0, 200}), 0xff)
	_, err := Decode(Bootstrap(), buf)
	if !errors.Is(err, ErrFraming) {
		t.Fatalf("expected ErrFraming, got %v", err)
	}
}

func TestDecodeStringStripsNUL(t *testing.T) {
	testlog.Start(t)
	n, err := Decode(Bootstrap(), tlvBytes("minm", []byte("name\x00")))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.Value != String("name") {
		t.Fatalf("unexpected value: %#v", n.Value)
	}
}

func TestDecodeUnsignedLongAndDate(t *testing.T) {
	testlog.Start(t)
	dict := Bootstrap()
	big := make([]byte, 4)
	binary.BigEndian.PutUint32(big, 3_000_000_000)

	n, err := Decode(dict, tlvBytes("mimc", big))
	if err != nil {
		t.Fatalf("decode long: %v", err)
	}
	if v, ok := IntValue(n.Value); !ok || v != 3_000_000_000 {
		t.Fatalf("long widened to %d", v)
	}
	if v, _ := IntValue(SignedLong(-5)); v != -5 {
		t.Fatalf("signed long widened to %d", v)
	}

	n, err = Decode(dict, tlvBytes("asda", big))
	if err != nil {
		t.Fatalf("decode date: %v", err)
	}
	if n.Value != Date(3_000_000_000) {
		t.Fatalf("unexpected date: %#v", n.Value)
	}
	if y := n.Value.(Date).Time().Year(); y != 2065 {
		t.Fatalf("date year = %d", y)
	}
	b, err := Encode(dict, n)
	if err != nil {
		t.Fatalf("encode date: %v", err)
	}
	if !bytes.Equal(b, tlvBytes("asda", big)) {
		t.Fatalf("date did not re-encode: %x", b)
	}
}

func TestDecodeUntil(t *testing.T) {
	testlog.Start(t)
	dict := Bootstrap()
	b, err := Encode(dict, NewContainer("dmap.updateresponse",
		New("dmap.status", Long(200)),
		New("dmap.serverrevision", Long(42)),
	))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// corrupt everything after the revision; it must never be read
	b = append(b, 'z', 'z', 'z', 'z')

	n, err := DecodeUntil(dict, b, "dmap.serverrevision")
	if err != nil {
		t.Fatalf("decode until: %v", err)
	}
	if n.Value != Long(42) {
		t.Fatalf("unexpected revision: %#v", n.Value)
	}

	_, err = DecodeUntil(dict, b[:len(b)-4], "dmap.sessionid")
	if !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestFileDataFromDisk(t *testing.T) {
	testlog.Start(t)
	dict := Bootstrap()
	path := filepath.Join(t.TempDir(), "photo.jpg")
	content := bytes.Repeat([]byte{0xd8, 0xff, 0x01}, 5000)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	in := NewContainer("dmap.listingitem",
		New("dmap.itemid", Long(9)),
		New("dpap.filedata", FileData{Size: uint32(len(content)), Path: path}),
	)
	b, err := Encode(dict, in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(dict, b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	fd, ok := out.Child("dpap.filedata").Value.(FileData)
	if !ok {
		t.Fatalf("missing file data: %s", out)
	}
	if fd.Size != uint32(len(content)) || !bytes.Equal(fd.Data, content) {
		t.Fatalf("file data mismatch: size=%d len=%d", fd.Size, len(fd.Data))
	}
}

func TestFileDataShortFileTruncates(t *testing.T) {
	testlog.Start(t)
	dict := Bootstrap()
	path := filepath.Join(t.TempDir(), "short.jpg")
	if err := os.WriteFile(path, []byte("abc"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	var buf bytes.Buffer
	if err := EncodeTo(&buf, dict, New("dpap.filedata", FileData{Size: 10, Path: path})); err != nil {
		t.Fatalf("encode: %v", err)
	}
	b := buf.Bytes()
	if binary.BigEndian.Uint32(b[4:8]) != 10 {
		t.Fatalf("declared size not preserved")
	}
	if string(b[8:]) != "abc" {
		t.Fatalf("unexpected payload: %q", b[8:])
	}
}

func TestFindFileData(t *testing.T) {
	testlog.Start(t)
	dict := Bootstrap()
	b, err := Encode(dict, NewContainer("daap.databasesongs",
		New("dmap.status", Long(200)),
		NewContainer("dmap.listing",
			NewContainer("dmap.listingitem",
				New("dmap.itemid", Long(3)),
				New("dpap.imagefilename", String("a.jpg")),
				New("dpap.filedata", FileData{Size: 5, Data: []byte("hello")}),
			),
		),
	))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	r, size, err := FindFileData(dict, bytes.NewReader(b))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if size != 5 || string(got) != "hello" {
		t.Fatalf("unexpected payload size=%d data=%q", size, got)
	}

	noData, err := Encode(dict, New("dmap.status", Long(200)))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, _, err := FindFileData(dict, bytes.NewReader(noData)); !errors.Is(err, ErrFileDataMissing) {
		t.Fatalf("expected ErrFileDataMissing, got %v", err)
	}
}

func tlvBytes(code string, payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], CodeNumber(code))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[headerSize:], payload)
	return buf
}
