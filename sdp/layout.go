package sdp

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"strconv"
)

// Field describes one header field, as given by its struct tags.
//
// Header structs carry these tags:
//
//	off:   byte offset of the field within the datagram
//	order: "be" for network byte order; little-endian otherwise
//	desc:  human-readable description
type Field struct {
	Name   string       // Go field name
	Offset int          // byte offset in the datagram
	Size   int          // size in bytes
	Kind   reflect.Kind // uint8, uint16 or uint32
	Big    bool         // true if the field is big-endian
	Desc   string       // description
}

// Fields extracts the field layout of a header struct (or pointer to
// one).  Untagged fields are skipped.
func Fields(x interface{}) ([]Field, error) {
	t := reflect.TypeOf(x)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("layout: %s is not a struct", t)
	}
	var fs []Field
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag, ok := f.Tag.Lookup("off")
		if !ok {
			continue
		}
		off, err := strconv.Atoi(tag)
		if err != nil {
			return nil, fmt.Errorf("layout: field %s: %w", f.Name, err)
		}
		switch f.Type.Kind() {
		case reflect.Uint8, reflect.Uint16, reflect.Uint32:
		default:
			return nil, fmt.Errorf("layout: field %s has kind %s", f.Name, f.Type.Kind())
		}
		fs = append(fs, Field{
			Name:   f.Name,
			Offset: off,
			Size:   int(f.Type.Size()),
			Kind:   f.Type.Kind(),
			Big:    f.Tag.Get("order") == "be",
			Desc:   f.Tag.Get("desc"),
		})
	}
	return fs, nil
}

// Get reads the value of field f from datagram b.
func (f Field) Get(b []byte) (uint32, error) {
	if len(b) < f.Offset+f.Size {
		return 0, fmt.Errorf("field %s: %w", f.Name, ErrShort)
	}
	var order binary.ByteOrder = binary.LittleEndian
	if f.Big {
		order = binary.BigEndian
	}
	switch f.Size {
	case 1:
		return uint32(b[f.Offset]), nil
	case 2:
		return uint32(order.Uint16(b[f.Offset:])), nil
	default:
		return order.Uint32(b[f.Offset:]), nil
	}
}

// Lookup finds a field by name.
func Lookup(fs []Field, name string) (Field, bool) {
	for _, f := range fs {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}
