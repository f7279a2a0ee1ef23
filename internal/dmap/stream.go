package dmap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// FindFileData reads tlv headers from r, descending into containers and
// skipping scalars, until it reaches the first file-data node. The returned
// reader yields exactly that node's payload.
func FindFileData(dict *Dictionary, r io.Reader) (io.Reader, uint32, error) {
	var head [headerSize]byte
	offset := 0
	for {
		if _, err := io.ReadFull(r, head[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, 0, ErrFileDataMissing
			}
			return nil, 0, &FramingError{Offset: offset, Need: headerSize, Have: 0}
		}
		number := binary.BigEndian.Uint32(head[0:4])
		length := binary.BigEndian.Uint32(head[4:8])
		tag, ok := dict.LookupNumber(number)
		if !ok {
			return nil, 0, &UnknownTagNumberError{Number: number, Offset: offset}
		}
		offset += headerSize

		switch tag.Type {
		case TypeFileData:
			return io.LimitReader(r, int64(length)), length, nil
		case TypeContainer:
			// children follow inline
		default:
			n, err := io.CopyN(io.Discard, r, int64(length))
			if err != nil {
				return nil, 0, &FramingError{Offset: offset, Need: int(length), Have: int(n)}
			}
			offset += int(length)
		}
	}
}

// DecodeFrom reads all of r and decodes a single node.
func DecodeFrom(dict *Dictionary, r io.Reader) (*Node, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("dmap: read: %w", err)
	}
	return Decode(dict, b)
}
