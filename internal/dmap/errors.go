package dmap

import (
	"errors"
	"fmt"
)

var (
	ErrFraming         = errors.New("dmap: malformed framing")
	ErrUnknownTag      = errors.New("dmap: unknown tag")
	ErrUnsupportedType = errors.New("dmap: unsupported wire type")
	ErrValueMismatch   = errors.New("dmap: value does not match wire type")
	ErrFileDataMissing = errors.New("dmap: no file data in response")
)

// FramingError reports a header or payload that runs past the buffer.
type FramingError struct {
	Offset int
	Need   int
	Have   int
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("dmap: framing error at offset %d: need %d bytes, have %d", e.Offset, e.Need, e.Have)
}

func (e *FramingError) Unwrap() error { return ErrFraming }

// UnknownTagNumberError is a decode-side dictionary miss.
type UnknownTagNumberError struct {
	Number uint32
	Offset int
}

func (e *UnknownTagNumberError) Error() string {
	return fmt.Sprintf("dmap: unknown tag %q (0x%08x) at offset %d", NumberCode(e.Number), e.Number, e.Offset)
}

func (e *UnknownTagNumberError) Unwrap() error { return ErrUnknownTag }

// UnknownTagNameError is an encode-side dictionary miss.
type UnknownTagNameError struct {
	Name string
}

func (e *UnknownTagNameError) Error() string {
	return fmt.Sprintf("dmap: unknown tag name %q", e.Name)
}

func (e *UnknownTagNameError) Unwrap() error { return ErrUnknownTag }
