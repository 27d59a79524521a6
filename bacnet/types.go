//Package bacnet provides the shared types of the BACnet object model:
//object identifiers, property identifiers and discovered devices
package bacnet

import (
	"errors"
	"net"
)

const (
	MaxInstance   = 0x3FFFFF
	instanceBits  = 22
	maxObjectType = 0x400
)

//ObjectType is the category of an object
type ObjectType uint16

//ObjectInstance is the instance number of an object inside a device
type ObjectInstance uint32

const (
	AnalogInput       ObjectType = 0x00
	AnalogOutput      ObjectType = 0x01
	AnalogValue       ObjectType = 0x02
	BinaryInput       ObjectType = 0x03
	BinaryOutput      ObjectType = 0x04
	BinaryValue       ObjectType = 0x05
	Calendar          ObjectType = 0x06
	Command           ObjectType = 0x07
	DeviceType        ObjectType = 0x08
	EventEnrollment   ObjectType = 0x09
	File              ObjectType = 0x0A
	Group             ObjectType = 0x0B
	Loop              ObjectType = 0x0C
	MultiStateInput   ObjectType = 0x0D
	MultiStateOutput  ObjectType = 0x0E
	NotificationClass ObjectType = 0x0F
	Program           ObjectType = 0x10
	Schedule          ObjectType = 0x11
	Averaging         ObjectType = 0x12
	MultiStateValue   ObjectType = 0x13
	Trendlog          ObjectType = 0x14
)

//ObjectID identifies one object of a device: its type and instance number
type ObjectID struct {
	Type     ObjectType
	Instance ObjectInstance
}

//Encode packs the object ID into the uint32 wire form. Returns an
//error if the ObjectID is out of range
func (o ObjectID) Encode() (uint32, error) {
	if o.Instance > MaxInstance {
		return 0, errors.New("invalid ObjectID: instance too high")
	}
	if o.Type > maxObjectType {
		return 0, errors.New("invalid ObjectID: object type too high")
	}
	return uint32(o.Type)<<instanceBits | uint32(o.Instance), nil
}

func ObjectIDFromUint32(v uint32) ObjectID {
	return ObjectID{
		Type:     ObjectType(v >> instanceBits),
		Instance: ObjectInstance(v & MaxInstance),
	}
}

//Device is a BACnet device discovered through an I-Am. A device
//contains several objects; only the device itself has a network address
type Device struct {
	ID           ObjectID
	MaxApdu      uint32
	Segmentation SegmentationSupport
	Vendor       uint32
	Addr         *net.UDPAddr
}

type SegmentationSupport byte

const (
	SegmentationSupportBoth     SegmentationSupport = 0x00
	SegmentationSupportTransmit SegmentationSupport = 0x01
	SegmentationSupportReceive  SegmentationSupport = 0x02
	SegmentationSupportNone     SegmentationSupport = 0x03
)

//PropertyType is a BACnet property identifier
type PropertyType uint32

const (
	ObjectList   PropertyType = 76
	ObjectName   PropertyType = 77
	PresentValue PropertyType = 85
	StatusFlags  PropertyType = 111
	Units        PropertyType = 117
	VendorName   PropertyType = 121
)

//PropertyIdentifier selects the property of a ReadProperty request
type PropertyIdentifier struct {
	Type PropertyType
	//Not nil if the property is an array and only one index is wanted
	ArrayIndex *uint32
}
