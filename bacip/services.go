package bacip

import (
	"errors"
	"fmt"
	"io"

	"github.com/edgehaus/bacnet-mqtt-gateway/bacnet"
	"github.com/edgehaus/bacnet-mqtt-gateway/internal/encoding"
)

//WhoIs is the discovery broadcast. A nil Low/High pair means every
//device on the network must respond
type WhoIs struct {
	Low, High *uint32
}

func (w WhoIs) MarshalBinary() ([]byte, error) {
	encoder := encoding.NewEncoder()
	if w.Low != nil && w.High != nil {
		if *w.Low > bacnet.MaxInstance || *w.High > bacnet.MaxInstance {
			return nil, fmt.Errorf("invalid WhoIs range: [%d, %d]: max value is %d", *w.Low, *w.High, bacnet.MaxInstance)
		}
		if *w.Low > *w.High {
			return nil, fmt.Errorf("invalid WhoIs range: [%d, %d]: low limit is higher than high limit", *w.Low, *w.High)
		}
		encoder.ContextUnsigned(0, *w.Low)
		encoder.ContextUnsigned(1, *w.High)
	}
	return encoder.Bytes(), encoder.Error()
}

func (w *WhoIs) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		// Empty body means a full range check, keep both limits nil
		return nil
	}
	w.Low = new(uint32)
	w.High = new(uint32)
	decoder := encoding.NewDecoder(data)
	decoder.ContextValue(0, w.Low)
	decoder.ContextValue(1, w.High)
	return decoder.Error()
}

//Iam is the response to a WhoIs, or an unsolicited startup
//announcement. Four application-tagged fields in fixed order
type Iam struct {
	ObjectID            bacnet.ObjectID
	MaxApduLength       uint32
	SegmentationSupport bacnet.SegmentationSupport
	VendorID            uint32
}

func (iam Iam) MarshalBinary() ([]byte, error) {
	encoder := encoding.NewEncoder()
	encoder.AppData(iam.ObjectID)
	encoder.AppData(iam.MaxApduLength)
	encoder.AppData(iam.SegmentationSupport)
	encoder.AppData(iam.VendorID)
	return encoder.Bytes(), encoder.Error()
}

func (iam *Iam) UnmarshalBinary(data []byte) error {
	decoder := encoding.NewDecoder(data)
	decoder.AppData(&iam.ObjectID)
	decoder.AppData(&iam.MaxApduLength)
	decoder.AppData(&iam.SegmentationSupport)
	decoder.AppData(&iam.VendorID)
	return decoder.Error()
}

//ReadPropertyRequest asks one device for a single property value
type ReadPropertyRequest struct {
	ObjectID bacnet.ObjectID
	Property bacnet.PropertyIdentifier
}

func (rp ReadPropertyRequest) MarshalBinary() ([]byte, error) {
	encoder := encoding.NewEncoder()
	encoder.ContextObjectID(0, rp.ObjectID)
	encoder.ContextUnsigned(1, uint32(rp.Property.Type))
	if rp.Property.ArrayIndex != nil {
		encoder.ContextUnsigned(2, *rp.Property.ArrayIndex)
	}
	return encoder.Bytes(), encoder.Error()
}

func (rp *ReadPropertyRequest) UnmarshalBinary(data []byte) error {
	decoder := encoding.NewDecoder(data)
	decoder.ContextObjectID(0, &rp.ObjectID)
	var val uint32
	decoder.ContextValue(1, &val)
	rp.Property.Type = bacnet.PropertyType(val)
	rp.Property.ArrayIndex = new(uint32)
	decoder.ContextValue(2, rp.Property.ArrayIndex)
	err := decoder.Error()
	var e encoding.ErrIncorrectTagID
	//The array index tag is optional: either the data ends here or
	//another tag follows
	if err != nil && (errors.As(err, &e) || errors.Is(err, io.EOF)) {
		rp.Property.ArrayIndex = nil
		decoder.ResetError()
	}
	return decoder.Error()
}

//ReadPropertyAck is the complex ack body answering a
//ReadPropertyRequest. Value is a float32 when the property carried the
//REAL application tag; any other tag is kept as an encoding.RawValue
type ReadPropertyAck struct {
	ObjectID bacnet.ObjectID
	Property bacnet.PropertyIdentifier
	Value    interface{}
}

func (rp ReadPropertyAck) MarshalBinary() ([]byte, error) {
	encoder := encoding.NewEncoder()
	encoder.ContextObjectID(0, rp.ObjectID)
	encoder.ContextUnsigned(1, uint32(rp.Property.Type))
	if rp.Property.ArrayIndex != nil {
		encoder.ContextUnsigned(2, *rp.Property.ArrayIndex)
	}
	encoder.ContextAbstractType(3, rp.Value)
	return encoder.Bytes(), encoder.Error()
}

func (rp *ReadPropertyAck) UnmarshalBinary(data []byte) error {
	decoder := encoding.NewDecoder(data)
	decoder.ContextObjectID(0, &rp.ObjectID)
	var val uint32
	decoder.ContextValue(1, &val)
	rp.Property.Type = bacnet.PropertyType(val)
	rp.Property.ArrayIndex = new(uint32)
	decoder.ContextValue(2, rp.Property.ArrayIndex)
	err := decoder.Error()
	var e encoding.ErrIncorrectTagID
	//The array index tag is optional
	if err != nil && errors.As(err, &e) {
		rp.Property.ArrayIndex = nil
		decoder.ResetError()
	}
	decoder.ContextAbstractType(3, &rp.Value)
	return decoder.Error()
}
