package dmap

import (
	"fmt"
	"strings"
)

// Value is a decoded payload. The concrete type always matches the wire type
// of the tag the node is named after.
type Value interface {
	WireType() WireType
}

type (
	Char       uint8
	Short      int16
	Long       int32
	SignedLong int32
	LongLong   int64
	String     string
	// Date is seconds since 1970-01-01 in local wall-clock time.
	Date int64
)

// Version is the three-component protocol version.
type Version struct {
	Major uint16
	Minor uint8
	Build uint8
}

// FileData streams file bytes inline. Encoding reads Size bytes from Path;
// decoding fills Data instead.
type FileData struct {
	Size uint32
	Path string
	Data []byte
}

// Container holds ordered child nodes.
type Container []*Node

func (Char) WireType() WireType       { return TypeChar }
func (Short) WireType() WireType      { return TypeShort }
func (Long) WireType() WireType       { return TypeLong }
func (SignedLong) WireType() WireType { return TypeSignedLong }
func (LongLong) WireType() WireType   { return TypeLongLong }
func (String) WireType() WireType     { return TypeString }
func (Date) WireType() WireType       { return TypeDate }
func (Version) WireType() WireType    { return TypeVersion }
func (FileData) WireType() WireType   { return TypeFileData }
func (Container) WireType() WireType  { return TypeContainer }

// Node is one named element of a value tree.
type Node struct {
	Name  string
	Value Value
}

func New(name string, v Value) *Node {
	return &Node{Name: name, Value: v}
}

func NewContainer(name string, children ...*Node) *Node {
	return &Node{Name: name, Value: Container(children)}
}

// Children returns the child list, or nil for scalar nodes.
func (n *Node) Children() []*Node {
	if n == nil {
		return nil
	}
	c, _ := n.Value.(Container)
	return c
}

// Child returns the first child named name.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Append adds children to a container node. Scalar nodes are converted.
func (n *Node) Append(children ...*Node) {
	c, _ := n.Value.(Container)
	n.Value = append(c, children...)
}

// Int returns the integer value of the first child named name.
func (n *Node) Int(name string) (int64, bool) {
	c := n.Child(name)
	if c == nil {
		return 0, false
	}
	return IntValue(c.Value)
}

// Str returns the string value of the first child named name.
func (n *Node) Str(name string) (string, bool) {
	c := n.Child(name)
	if c == nil {
		return "", false
	}
	s, ok := c.Value.(String)
	return string(s), ok
}

// IntValue widens any integer-shaped value.
func IntValue(v Value) (int64, bool) {
	switch x := v.(type) {
	case Char:
		return int64(x), true
	case Short:
		return int64(x), true
	case Long:
		// unsigned on the wire
		return int64(uint32(x)), true
	case SignedLong:
		return int64(x), true
	case LongLong:
		return int64(x), true
	case Date:
		return int64(x), true
	default:
		return 0, false
	}
}

func (n *Node) String() string {
	var b strings.Builder
	n.dump(&b, 0)
	return b.String()
}

func (n *Node) dump(b *strings.Builder, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	switch v := n.Value.(type) {
	case Container:
		fmt.Fprintf(b, "%s:\n", n.Name)
		for _, c := range v {
			c.dump(b, depth+1)
		}
	case String:
		fmt.Fprintf(b, "%s: %q\n", n.Name, string(v))
	case Version:
		fmt.Fprintf(b, "%s: %d.%d.%d\n", n.Name, v.Major, v.Minor, v.Build)
	case FileData:
		fmt.Fprintf(b, "%s: <%d bytes>\n", n.Name, v.Size)
	default:
		fmt.Fprintf(b, "%s: %v\n", n.Name, v)
	}
}
