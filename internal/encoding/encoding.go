//Package encoding implements the BACnet tag-length-value convention
//used by every application layer service payload
package encoding

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/edgehaus/bacnet-mqtt-gateway/bacnet"
)

//Encoder turns BACnet types into byte arrays. All public methods can
//set the internal error value. Once set, all later encoding calls are
//no-ops, which allows error checking to be deferred until the end of
//several encoding operations
type Encoder struct {
	buf *bytes.Buffer
	err error
}

func NewEncoder() Encoder {
	return Encoder{
		buf: new(bytes.Buffer),
		err: nil,
	}
}

func (e *Encoder) Error() error {
	return e.err
}

func (e *Encoder) Bytes() []byte {
	return e.buf.Bytes()
}

//ContextUnsigned writes a context tag / value pair where the value
//is an unsigned int
func (e *Encoder) ContextUnsigned(tagNumber byte, value uint32) {
	if e.err != nil {
		return
	}
	length := valueLength(value)
	t := tag{
		ID:      tagNumber,
		Context: true,
		Value:   uint32(length),
	}
	encodeTag(e.buf, t)
	unsigned(e.buf, value)
}

//ContextObjectID writes a context tag / value pair where the value
//is an object identifier
func (e *Encoder) ContextObjectID(tagNumber byte, objectID bacnet.ObjectID) {
	if e.err != nil {
		return
	}
	t := tag{
		ID:      tagNumber,
		Context: true,
		Value:   4, //length of an encoded objectID
	}
	encodeTag(e.buf, t)
	v, err := objectID.Encode()
	if err != nil {
		e.err = err
		return
	}
	_ = binary.Write(e.buf, binary.BigEndian, v)
}

//AppData writes a tag and value of a standard BACnet application
//data type. Sets the encoder error if v is of an unsupported type
func (e *Encoder) AppData(v interface{}) {
	if e.err != nil {
		return
	}
	if v == nil {
		encodeTag(e.buf, tag{ID: applicationTagNull})
		return
	}
	switch val := v.(type) {
	case float32:
		t := tag{ID: applicationTagReal, Value: 4}
		encodeTag(e.buf, t)
		_ = binary.Write(e.buf, binary.BigEndian, val)
	case string:
		//+1 because one byte carries the string encoding format
		t := tag{ID: applicationTagCharacterString, Value: uint32(len(val) + 1)}
		encodeTag(e.buf, t)
		_ = e.buf.WriteByte(utf8Encoding)
		_, _ = e.buf.Write([]byte(val))
	case uint32:
		length := valueLength(val)
		t := tag{ID: applicationTagUnsignedInt, Value: uint32(length)}
		encodeTag(e.buf, t)
		unsigned(e.buf, val)
	case bacnet.SegmentationSupport:
		v := uint32(val)
		length := valueLength(v)
		t := tag{ID: applicationTagEnumerated, Value: uint32(length)}
		encodeTag(e.buf, t)
		unsigned(e.buf, v)
	case bacnet.ObjectID:
		t := tag{ID: applicationTagObjectID, Value: 4}
		encodeTag(e.buf, t)
		v, err := val.Encode()
		if err != nil {
			e.err = err
			return
		}
		_ = binary.Write(e.buf, binary.BigEndian, v)
	case RawValue:
		encodeTag(e.buf, tag{ID: val.Tag, Value: uint32(len(val.Bytes))})
		_, _ = e.buf.Write(val.Bytes)
	default:
		e.err = fmt.Errorf("encode AppData: unknown type %T", v)
	}
}

//ContextAbstractType writes an application-tagged value wrapped in an
//opening/closing context tag pair
func (e *Encoder) ContextAbstractType(tagNumber byte, v interface{}) {
	if e.err != nil {
		return
	}
	encodeTag(e.buf, tag{ID: tagNumber, Context: true, Opening: true})
	e.AppData(v)
	encodeTag(e.buf, tag{ID: tagNumber, Context: true, Closing: true})
}

// valueLength returns the smallest number of bytes the value fits in
func valueLength(value uint32) int {
	if value < 0x100 {
		return 1
	} else if value < 0x10000 {
		return 2
	} else if value < 0x1000000 {
		return 3
	}
	return 4
}

//unsigned writes the value in the buffer using a variable-sized encoding
func unsigned(buf *bytes.Buffer, value uint32) int {
	switch {
	case value < 0x100:
		buf.WriteByte(uint8(value))
		return 1
	case value < 0x10000:
		_ = binary.Write(buf, binary.BigEndian, uint16(value))
		return 2
	case value < 0x1000000:
		// There is no 24 bit integer in go, write it manually in big
		// endian
		buf.WriteByte(byte(value >> 16))
		_ = binary.Write(buf, binary.BigEndian, uint16(value))
		return 3
	default:
		_ = binary.Write(buf, binary.BigEndian, value)
		return 4
	}
}
