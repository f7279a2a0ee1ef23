package dmap

import (
	"encoding/binary"
	"fmt"
)

// WireType selects the payload layout for a tag.
type WireType uint16

// Wire type codes as carried in dmap.contentcodestype.
const (
	TypeChar       WireType = 1
	TypeSignedLong WireType = 2
	TypeShort      WireType = 3
	TypeLong       WireType = 5
	TypeLongLong   WireType = 7
	TypeString     WireType = 9
	TypeDate       WireType = 10
	TypeVersion    WireType = 11
	TypeContainer  WireType = 12
	TypeFileData   WireType = 13
)

func (t WireType) String() string {
	switch t {
	case TypeChar:
		return "char"
	case TypeSignedLong:
		return "signed-long"
	case TypeShort:
		return "short"
	case TypeLong:
		return "long"
	case TypeLongLong:
		return "longlong"
	case TypeString:
		return "string"
	case TypeDate:
		return "date"
	case TypeVersion:
		return "version"
	case TypeContainer:
		return "container"
	case TypeFileData:
		return "filedata"
	default:
		return fmt.Sprintf("type(%d)", uint16(t))
	}
}

// Tag is one content code.
type Tag struct {
	Number uint32
	Name   string
	Type   WireType
}

// Code returns the 4-character ASCII form of the tag number.
func (t Tag) Code() string {
	return NumberCode(t.Number)
}

// CodeNumber interprets a 4-character code as a big-endian number.
func CodeNumber(code string) uint32 {
	var b [4]byte
	copy(b[:], code)
	return binary.BigEndian.Uint32(b[:])
}

// NumberCode is the inverse of CodeNumber.
func NumberCode(n uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	return string(b[:])
}
