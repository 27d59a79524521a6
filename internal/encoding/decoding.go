package encoding

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"

	"github.com/edgehaus/bacnet-mqtt-gateway/bacnet"
)

//Decoder turns byte arrays into BACnet types. All public methods can
//set the internal error value. Once set, all later decoding calls are
//no-ops, which allows error checking to be deferred until the end of
//several decoding operations
type Decoder struct {
	buf *bytes.Buffer
	err error
}

func NewDecoder(b []byte) *Decoder {
	return &Decoder{
		buf: bytes.NewBuffer(b),
		err: nil,
	}
}

func (d *Decoder) Error() error {
	return d.err
}

func (d *Decoder) ResetError() {
	d.err = nil
}

//RawValue is an application-tagged value whose type this gateway does
//not interpret. The tag and the undecoded bytes are kept so callers
//can surface them
type RawValue struct {
	Tag   byte
	Bytes []byte
}

//unread puts back the last n bytes read so the same data can be
//decoded again
func (d *Decoder) unread(n int) error {
	for x := 0; x < n; x++ {
		err := d.buf.UnreadByte()
		if err != nil {
			return err
		}
	}
	return nil
}

//ContextValue reads the next context tag/value pair and sets val
//accordingly. Sets the decoder error if the tag isn't contextual or
//doesn't carry the expected ID. On ErrIncorrectTagID the buffer cursor
//is rewound so the same tag can be read again
func (d *Decoder) ContextValue(expectedTagID byte, val *uint32) {
	if d.err != nil {
		return
	}
	length, t, err := decodeTag(d.buf)
	if err != nil {
		d.err = err
		return
	}
	if t.ID != expectedTagID {
		d.err = ErrIncorrectTagID{Expected: expectedTagID, Got: t.ID}
		if err := d.unread(length); err != nil {
			d.err = err
		}
		return
	}
	if !t.Context {
		d.err = errors.New("tag isn't contextual")
		return
	}
	v, err := decodeUnsignedWithLen(d.buf, int(t.Value))
	if err != nil {
		d.err = err
		return
	}
	*val = v
}

//ContextObjectID reads a context tag/value pair where the value is an
//object identifier. On ErrIncorrectTagID the buffer cursor is rewound
//so the same tag can be read again
func (d *Decoder) ContextObjectID(expectedTagID byte, objectID *bacnet.ObjectID) {
	if d.err != nil {
		return
	}
	length, t, err := decodeTag(d.buf)
	if err != nil {
		d.err = err
		return
	}
	if t.ID != expectedTagID {
		d.err = ErrIncorrectTagID{Expected: expectedTagID, Got: t.ID}
		if err := d.unread(length); err != nil {
			d.err = err
		}
		return
	}
	if !t.Context {
		d.err = errors.New("tag isn't contextual")
		return
	}
	if t.Value != 4 {
		d.err = fmt.Errorf("context objectID with invalid length %d", t.Value)
		return
	}
	var val uint32
	if err := binary.Read(d.buf, binary.BigEndian, &val); err != nil {
		d.err = fmt.Errorf("read context objectID: %w", err)
		return
	}
	*objectID = bacnet.ObjectIDFromUint32(val)
}

type AppDataTypeMismatch struct {
	wanted string
	got    reflect.Type
}

func (e AppDataTypeMismatch) Error() string {
	return fmt.Sprintf("decode AppData: mismatched type, cannot decode %s in type %s", e.wanted, e.got.String())
}

//AppData reads the next application tag and value. The decoded value
//must match the type pointed to by v, except when v points to an empty
//interface: then any supported type is decoded, and unsupported tags
//are kept as a RawValue instead of failing
func (d *Decoder) AppData(v interface{}) {
	if d.err != nil {
		return
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		d.err = errors.New("decode AppData: interface parameter isn't a pointer")
		return
	}
	_, tag, err := decodeTag(d.buf)
	if err != nil {
		d.err = fmt.Errorf("decode AppData: read tag: %w", err)
		return
	}
	if tag.Context {
		d.err = errors.New("decode AppData: unexpected context tag")
		return
	}
	rv = rv.Elem()
	switch tag.ID {
	case applicationTagNull:
		//nothing to do
	case applicationTagUnsignedInt:
		val, err := decodeUnsignedWithLen(d.buf, int(tag.Value))
		if err != nil {
			d.err = fmt.Errorf("decode AppData: read unsigned: %w", err)
			return
		}
		if rv.Kind() != reflect.Uint8 && rv.Kind() != reflect.Uint16 && rv.Kind() != reflect.Uint32 && !isEmptyInterface(rv) {
			d.err = AppDataTypeMismatch{wanted: "UnsignedInt", got: rv.Type()}
			return
		}
		rv.Set(reflect.ValueOf(val))
	case applicationTagReal:
		var f float32
		if err := binary.Read(d.buf, binary.BigEndian, &f); err != nil {
			d.err = fmt.Errorf("decode AppData: read float32: %w", err)
			return
		}
		if rv.Kind() != reflect.Float32 && !isEmptyInterface(rv) {
			d.err = AppDataTypeMismatch{wanted: "Real", got: rv.Type()}
			return
		}
		rv.Set(reflect.ValueOf(f))
	case applicationTagCharacterString:
		if tag.Value < 1 {
			d.err = errors.New("decode AppData: character string without encoding byte")
			return
		}
		sEncoding, err := d.buf.ReadByte()
		if err != nil {
			d.err = fmt.Errorf("decode AppData: read string encoding: %w", err)
			return
		}
		if sEncoding != utf8Encoding {
			d.err = fmt.Errorf("unsupported string encoding: 0x%x", sEncoding)
			return
		}
		if int(tag.Value)-1 > d.buf.Len() {
			d.err = fmt.Errorf("decode string: length %d exceeds remaining data", tag.Value)
			return
		}
		b := make([]byte, int(tag.Value)-1) //Minus one, encoding byte already consumed
		n, err := d.buf.Read(b)
		if err != nil {
			d.err = fmt.Errorf("decode AppData: read string: %w", err)
			return
		}
		if n != len(b) {
			d.err = fmt.Errorf("decode string: short read %d instead of %d", n, len(b))
			return
		}
		s := string(b)
		if rv.Type() != reflect.TypeOf(s) && !isEmptyInterface(rv) {
			d.err = AppDataTypeMismatch{wanted: "CharacterString", got: rv.Type()}
			return
		}
		rv.Set(reflect.ValueOf(s))
	case applicationTagEnumerated:
		val, err := decodeUnsignedWithLen(d.buf, int(tag.Value))
		if err != nil {
			d.err = fmt.Errorf("decode AppData: read enumerated: %w", err)
			return
		}
		switch rv.Type() {
		case reflect.TypeOf(bacnet.SegmentationSupport(0)):
			rv.Set(reflect.ValueOf(bacnet.SegmentationSupport(val)))
		default:
			if isEmptyInterface(rv) {
				rv.Set(reflect.ValueOf(val))
			} else {
				d.err = AppDataTypeMismatch{wanted: "Enumerated", got: rv.Type()}
				return
			}
		}
	case applicationTagObjectID:
		var val uint32
		if err := binary.Read(d.buf, binary.BigEndian, &val); err != nil {
			d.err = fmt.Errorf("decode AppData: read objectID: %w", err)
			return
		}
		obj := bacnet.ObjectIDFromUint32(val)
		if rv.Type() != reflect.TypeOf(obj) && !isEmptyInterface(rv) {
			d.err = AppDataTypeMismatch{wanted: "ObjectID", got: rv.Type()}
			return
		}
		rv.Set(reflect.ValueOf(obj))
	case applicationTagBoolean:
		if rv.Kind() != reflect.Bool && !isEmptyInterface(rv) {
			d.err = AppDataTypeMismatch{wanted: "Boolean", got: rv.Type()}
			return
		}
		rv.Set(reflect.ValueOf(tag.Value != 0))
	default:
		// A tag this gateway doesn't interpret. Keep the raw bytes
		// rather than failing so the caller can log them
		if int(tag.Value) > d.buf.Len() {
			d.err = fmt.Errorf("decode AppData: tag 0x%x length %d exceeds remaining data", tag.ID, tag.Value)
			return
		}
		raw := RawValue{Tag: tag.ID, Bytes: make([]byte, int(tag.Value))}
		n, err := d.buf.Read(raw.Bytes)
		if err != nil || n != len(raw.Bytes) {
			d.err = fmt.Errorf("decode AppData: short read of unknown tag 0x%x", tag.ID)
			return
		}
		if !isEmptyInterface(rv) && rv.Type() != reflect.TypeOf(raw) {
			d.err = AppDataTypeMismatch{wanted: fmt.Sprintf("tag 0x%x", tag.ID), got: rv.Type()}
			return
		}
		rv.Set(reflect.ValueOf(raw))
	}
}

func isEmptyInterface(rv reflect.Value) bool {
	return rv.Kind() == reflect.Interface && rv.Type().NumMethod() == 0
}

const utf8Encoding = byte(0)

//ContextAbstractType reads one application-tagged value enclosed in an
//opening/closing context tag pair
func (d *Decoder) ContextAbstractType(expectedTagNumber byte, v interface{}) {
	if d.err != nil {
		return
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		d.err = errors.New("decode abstractType: interface parameter isn't a pointer")
		return
	}
	_, tag, err := decodeTag(d.buf)
	if err != nil {
		d.err = fmt.Errorf("decode abstractType: read opening tag: %w", err)
		return
	}
	if !tag.Opening {
		d.err = errors.New("decode abstractType: expected opening tag")
		return
	}
	if tag.ID != expectedTagNumber {
		d.err = ErrIncorrectTagID{Expected: expectedTagNumber, Got: tag.ID}
		return
	}
	d.AppData(v)
	if d.err != nil {
		return
	}
	_, tag, err = decodeTag(d.buf)
	if err != nil {
		d.err = fmt.Errorf("decode abstractType: read closing tag: %w", err)
		return
	}
	if !tag.Closing {
		d.err = errors.New("decode abstractType: expected closing tag")
		return
	}
	if tag.ID != expectedTagNumber {
		d.err = ErrIncorrectTagID{Expected: expectedTagNumber, Got: tag.ID}
	}
}

const (
	size8  = 1
	size16 = 2
	size24 = 3
	size32 = 4
)

func decodeUnsignedWithLen(buf *bytes.Buffer, length int) (uint32, error) {
	switch length {
	case size8:
		val, err := buf.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("read unsigned with length 1: %w", err)
		}
		return uint32(val), nil
	case size16:
		var val uint16
		if err := binary.Read(buf, binary.BigEndian, &val); err != nil {
			return 0, fmt.Errorf("read unsigned with length 2: %w", err)
		}
		return uint32(val), nil
	case size24:
		var val uint16
		msb, err := buf.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("read unsigned with length 3: %w", err)
		}
		if err := binary.Read(buf, binary.BigEndian, &val); err != nil {
			return 0, fmt.Errorf("read unsigned with length 3: %w", err)
		}
		return uint32(msb)<<16 + uint32(val), nil
	case size32:
		var val uint32
		if err := binary.Read(buf, binary.BigEndian, &val); err != nil {
			return 0, fmt.Errorf("read unsigned with length 4: %w", err)
		}
		return val, nil
	default:
		return 0, fmt.Errorf("read unsigned: invalid length %d", length)
	}
}
