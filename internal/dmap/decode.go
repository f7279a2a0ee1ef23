package dmap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrNodeNotFound = errors.New("dmap: node not found")

// errStop unwinds the decoder once the requested node is produced.
var errStop = errors.New("dmap: stop")

// Decode parses one complete node from b.
func Decode(dict *Dictionary, b []byte) (*Node, error) {
	d := decoder{dict: dict, buf: b}
	n, next, err := d.node(0, len(b))
	if err != nil {
		return nil, err
	}
	if next != len(b) {
		return nil, fmt.Errorf("%w: %d trailing bytes after %s", ErrFraming, len(b)-next, n.Name)
	}
	return n, nil
}

// DecodeUntil parses b depth-first and returns the first node named stop
// without materializing the rest of the tree.
func DecodeUntil(dict *Dictionary, b []byte, stop string) (*Node, error) {
	d := decoder{dict: dict, buf: b, stop: stop}
	_, _, err := d.node(0, len(b))
	if errors.Is(err, errStop) {
		return d.found, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, stop)
}

type decoder struct {
	dict  *Dictionary
	buf   []byte
	stop  string
	found *Node
}

// node decodes the unit starting at off, bounded by end.
func (d *decoder) node(off, end int) (*Node, int, error) {
	if end-off < headerSize {
		return nil, 0, &FramingError{Offset: off, Need: headerSize, Have: end - off}
	}
	number := binary.BigEndian.Uint32(d.buf[off : off+4])
	length := binary.BigEndian.Uint32(d.buf[off+4 : off+8])
	tag, ok := d.dict.LookupNumber(number)
	if !ok {
		return nil, 0, &UnknownTagNumberError{Number: number, Offset: off}
	}
	start := off + headerSize
	if uint64(length) > uint64(end-start) {
		return nil, 0, &FramingError{Offset: start, Need: int(length), Have: end - start}
	}
	stop := start + int(length)

	n := &Node{Name: tag.Name}
	if tag.Type == TypeContainer {
		var children Container
		for pos := start; pos < stop; {
			child, next, err := d.node(pos, stop)
			if err != nil {
				return nil, 0, err
			}
			children = append(children, child)
			pos = next
		}
		n.Value = children
	} else {
		v, err := decodeScalar(tag, d.buf[start:stop])
		if err != nil {
			return nil, 0, fmt.Errorf("dmap: decode %s at offset %d: %w", tag.Name, off, err)
		}
		n.Value = v
	}

	if d.stop != "" && n.Name == d.stop {
		d.found = n
		return nil, 0, errStop
	}
	return n, stop, nil
}

func decodeScalar(tag Tag, p []byte) (Value, error) {
	want := fixedLength(tag.Type)
	if want > 0 && len(p) != want {
		return nil, fmt.Errorf("%w: %s payload is %d bytes, want %d", ErrFraming, tag.Type, len(p), want)
	}
	switch tag.Type {
	case TypeChar:
		return Char(p[0]), nil
	case TypeShort:
		return Short(int16(binary.BigEndian.Uint16(p))), nil
	case TypeLong:
		return Long(int32(binary.BigEndian.Uint32(p))), nil
	case TypeSignedLong:
		return SignedLong(int32(binary.BigEndian.Uint32(p))), nil
	case TypeLongLong:
		return LongLong(int64(binary.BigEndian.Uint64(p))), nil
	case TypeDate:
		return Date(binary.BigEndian.Uint32(p)), nil
	case TypeVersion:
		return Version{
			Major: binary.BigEndian.Uint16(p[0:2]),
			Minor: p[2],
			Build: p[3],
		}, nil
	case TypeString:
		return String(bytes.TrimRight(p, "\x00")), nil
	case TypeFileData:
		data := make([]byte, len(p))
		copy(data, p)
		return FileData{Size: uint32(len(p)), Data: data}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, tag.Type)
	}
}

func fixedLength(t WireType) int {
	switch t {
	case TypeChar:
		return 1
	case TypeShort:
		return 2
	case TypeLong, TypeSignedLong, TypeDate, TypeVersion:
		return 4
	case TypeLongLong:
		return 8
	default:
		return 0
	}
}
