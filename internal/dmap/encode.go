package dmap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	headerSize    = 8
	fileChunkSize = 8 * 1024
)

// Encode renders n as tlv bytes.
func Encode(dict *Dictionary, n *Node) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeTo(&buf, dict, n); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTo writes n to w. A top-level file-data node is streamed from disk
// instead of buffered.
func EncodeTo(w io.Writer, dict *Dictionary, n *Node) error {
	if n == nil {
		return fmt.Errorf("dmap: encode: nil node")
	}
	tag, ok := dict.LookupName(n.Name)
	if !ok {
		return &UnknownTagNameError{Name: n.Name}
	}
	payload, err := encodePayload(dict, tag, n)
	if err != nil {
		return err
	}
	if tag.Type == TypeFileData {
		fd := payload.(fileDataPayload)
		if err := writeHeader(w, tag.Number, fd.size); err != nil {
			return err
		}
		return copyFileData(w, fd.path, fd.data, fd.size)
	}
	b := payload.([]byte)
	if len(b) > math.MaxUint32 {
		return fmt.Errorf("dmap: encode %s: payload too large", n.Name)
	}
	if err := writeHeader(w, tag.Number, uint32(len(b))); err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

type fileDataPayload struct {
	size uint32
	path string
	data []byte
}

func writeHeader(w io.Writer, number, length uint32) error {
	var head [headerSize]byte
	binary.BigEndian.PutUint32(head[0:4], number)
	binary.BigEndian.PutUint32(head[4:8], length)
	_, err := w.Write(head[:])
	return err
}

func encodePayload(dict *Dictionary, tag Tag, n *Node) (any, error) {
	mismatch := func() error {
		return fmt.Errorf("%w: %s is %s, got %T", ErrValueMismatch, n.Name, tag.Type, n.Value)
	}
	switch tag.Type {
	case TypeChar, TypeShort, TypeLong, TypeSignedLong, TypeLongLong, TypeDate:
		v, ok := IntValue(n.Value)
		if !ok {
			return nil, mismatch()
		}
		return encodeInt(tag.Type, v), nil
	case TypeString:
		s, ok := n.Value.(String)
		if !ok {
			return nil, mismatch()
		}
		return []byte(s), nil
	case TypeVersion:
		v, ok := n.Value.(Version)
		if !ok {
			return nil, mismatch()
		}
		b := make([]byte, 4)
		binary.BigEndian.PutUint16(b[0:2], v.Major)
		b[2] = v.Minor
		b[3] = v.Build
		return b, nil
	case TypeContainer:
		c, ok := n.Value.(Container)
		if !ok && n.Value != nil {
			return nil, mismatch()
		}
		var buf bytes.Buffer
		for _, child := range c {
			if err := EncodeTo(&buf, dict, child); err != nil {
				return nil, err
			}
		}
		return buf.Bytes(), nil
	case TypeFileData:
		fd, ok := n.Value.(FileData)
		if !ok {
			return nil, mismatch()
		}
		return fileDataPayload{size: fd.Size, path: fd.Path, data: fd.Data}, nil
	default:
		return nil, fmt.Errorf("%w: %s (%s)", ErrUnsupportedType, n.Name, tag.Type)
	}
}

func encodeInt(t WireType, v int64) []byte {
	switch t {
	case TypeChar:
		return []byte{byte(v)}
	case TypeShort:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(v))
		return b
	case TypeLongLong:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(v))
		return b
	default:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(v))
		return b
	}
}

// copyFileData streams up to size bytes from path (or data when path is
// empty). A short file ends the payload early without error.
func copyFileData(w io.Writer, path string, data []byte, size uint32) error {
	if path == "" {
		if uint32(len(data)) > size {
			data = data[:size]
		}
		_, err := w.Write(data)
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("dmap: open file data %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, fileChunkSize)
	remaining := int64(size)
	for remaining > 0 {
		chunk := buf
		if remaining < int64(len(chunk)) {
			chunk = chunk[:remaining]
		}
		n, err := f.Read(chunk)
		if n > 0 {
			if _, werr := w.Write(chunk[:n]); werr != nil {
				return werr
			}
			remaining -= int64(n)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}
