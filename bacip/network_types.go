package bacip

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

type Version byte

const Version1 Version = 1

type NPDUPriority byte

const (
	LifeSafety        NPDUPriority = 3
	CriticalEquipment NPDUPriority = 2
	Urgent            NPDUPriority = 1
	Normal            NPDUPriority = 0
)

//Route is the network number / MAC pair of an NPDU routing field.
//The gateway never routes but must skip these fields when a router
//put them on the wire
type Route struct {
	Net uint16
	Adr []byte
}

//NPDU is the network layer header in front of every APDU
type NPDU struct {
	Version Version //Always one
	// These three fields are packed in the control byte
	IsNetworkLayerMessage bool //If true, there is no APDU behind
	ExpectingReply        bool
	Priority              NPDUPriority

	Destination *Route
	Source      *Route
	HopCount    byte
	//Only significant if IsNetworkLayerMessage is true
	NetworkMessageType byte
	VendorID           uint16
}

//MarshalBinary encodes the header alone. The APDU bytes are appended
//by the caller
func (npdu NPDU) MarshalBinary() ([]byte, error) {
	b := &bytes.Buffer{}
	b.WriteByte(byte(npdu.Version))
	var control byte
	var hasSrc, hasDest bool
	if npdu.IsNetworkLayerMessage {
		control += 1 << 7
	}
	if npdu.ExpectingReply {
		control += 1 << 2
	}
	if npdu.Priority > 3 {
		return nil, fmt.Errorf("invalid NPDU priority %d", npdu.Priority)
	}
	control += byte(npdu.Priority)
	if npdu.Destination != nil && npdu.Destination.Net != 0 {
		control += 1 << 5
		hasDest = true
	}
	if npdu.Source != nil && npdu.Source.Net != 0 {
		control += 1 << 3
		hasSrc = true
	}
	b.WriteByte(control)
	if hasDest {
		_ = binary.Write(b, binary.BigEndian, npdu.Destination.Net)
		b.WriteByte(byte(len(npdu.Destination.Adr)))
		b.Write(npdu.Destination.Adr)
	}
	if hasSrc {
		_ = binary.Write(b, binary.BigEndian, npdu.Source.Net)
		b.WriteByte(byte(len(npdu.Source.Adr)))
		b.Write(npdu.Source.Adr)
	}
	if hasDest {
		b.WriteByte(npdu.HopCount)
	}
	if npdu.IsNetworkLayerMessage {
		b.WriteByte(npdu.NetworkMessageType)
		if npdu.NetworkMessageType >= 0x80 {
			_ = binary.Write(b, binary.BigEndian, npdu.VendorID)
		}
	}
	return b.Bytes(), nil
}

//UnmarshalBinary decodes the header and returns the number of bytes
//consumed, so the caller knows where the APDU starts. Never panics on
//truncated input
func (npdu *NPDU) UnmarshalBinary(data []byte) (int, error) {
	buf := bytes.NewBuffer(data)
	if err := binary.Read(buf, binary.BigEndian, &npdu.Version); err != nil {
		return 0, fmt.Errorf("read NPDU version: %w", err)
	}
	if npdu.Version != Version1 {
		return 0, fmt.Errorf("invalid NPDU version %d", npdu.Version)
	}
	control, err := buf.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("read NPDU control byte: %w", err)
	}
	npdu.IsNetworkLayerMessage = control&(1<<7) > 0
	npdu.ExpectingReply = control&(1<<2) > 0
	npdu.Priority = NPDUPriority(control & 0x3)

	if control&(1<<5) > 0 {
		npdu.Destination = &Route{}
		if err := readRoute(buf, npdu.Destination); err != nil {
			return 0, fmt.Errorf("read NPDU destination: %w", err)
		}
	}
	if control&(1<<3) > 0 {
		npdu.Source = &Route{}
		if err := readRoute(buf, npdu.Source); err != nil {
			return 0, fmt.Errorf("read NPDU source: %w", err)
		}
	}
	if npdu.Destination != nil {
		if err := binary.Read(buf, binary.BigEndian, &npdu.HopCount); err != nil {
			return 0, fmt.Errorf("read NPDU hop count: %w", err)
		}
	}
	if npdu.IsNetworkLayerMessage {
		if err := binary.Read(buf, binary.BigEndian, &npdu.NetworkMessageType); err != nil {
			return 0, fmt.Errorf("read NPDU network message type: %w", err)
		}
		if npdu.NetworkMessageType >= 0x80 {
			if err := binary.Read(buf, binary.BigEndian, &npdu.VendorID); err != nil {
				return 0, fmt.Errorf("read NPDU vendorID: %w", err)
			}
		}
	}
	return len(data) - buf.Len(), nil
}

func readRoute(buf *bytes.Buffer, r *Route) error {
	if err := binary.Read(buf, binary.BigEndian, &r.Net); err != nil {
		return fmt.Errorf("net: %w", err)
	}
	length, err := buf.ReadByte()
	if err != nil {
		return fmt.Errorf("adr length: %w", err)
	}
	r.Adr = make([]byte, int(length))
	if buf.Len() < len(r.Adr) {
		return errors.New("adr: short read")
	}
	_, _ = buf.Read(r.Adr)
	return nil
}

type PDUType byte

const (
	ConfirmedServiceRequest   PDUType = 0x00
	UnconfirmedServiceRequest PDUType = 0x10
	SimpleAck                 PDUType = 0x20
	ComplexAck                PDUType = 0x30
	SegmentAck                PDUType = 0x40
	Error                     PDUType = 0x50
	Reject                    PDUType = 0x60
	Abort                     PDUType = 0x70
)

type ServiceType byte

const (
	ServiceUnconfirmedIAm   ServiceType = 0
	ServiceUnconfirmedWhoIs ServiceType = 8

	ServiceConfirmedReadProperty ServiceType = 12
)

// Confirmed request PDU flags (low nibble of the first APDU byte)
const (
	confirmedFlagSegmented                 byte = 1 << 3
	confirmedFlagMoreFollows               byte = 1 << 2
	confirmedFlagSegmentedResponseAccepted byte = 1 << 1
)

// Single-frame requests only: no segments proposed, responses up to
// 1476 bytes accepted
const maxApduLength1476 byte = 0x05

var (
	ErrUnsupportedPDUType      = errors.New("unsupported PDU type")
	ErrSegmentationUnsupported = errors.New("segmented APDU not supported")
)

//APDU is the application layer envelope. This gateway produces and
//consumes exactly three forms: unconfirmed request, confirmed request
//and complex ack. InvokeID is only meaningful for the confirmed forms
type APDU struct {
	DataType    PDUType
	ServiceType ServiceType
	InvokeID    byte
	Payload     Payload
}

func (apdu APDU) MarshalBinary() ([]byte, error) {
	b := &bytes.Buffer{}
	switch apdu.DataType {
	case ConfirmedServiceRequest:
		b.WriteByte(byte(ConfirmedServiceRequest) | confirmedFlagSegmentedResponseAccepted)
		b.WriteByte(maxApduLength1476)
		b.WriteByte(apdu.InvokeID)
	case UnconfirmedServiceRequest:
		b.WriteByte(byte(UnconfirmedServiceRequest))
	case ComplexAck:
		b.WriteByte(byte(ComplexAck))
		b.WriteByte(apdu.InvokeID)
	default:
		return nil, fmt.Errorf("%w: 0x%x", ErrUnsupportedPDUType, byte(apdu.DataType))
	}
	b.WriteByte(byte(apdu.ServiceType))
	bytes, err := apdu.Payload.MarshalBinary()
	if err != nil {
		return nil, err
	}
	b.Write(bytes)
	return b.Bytes(), nil
}

//UnmarshalBinary dispatches strictly on the 4 bit PDU type in the top
//nibble of the first byte. Unknown types yield an error, never a panic
func (apdu *APDU) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return errors.New("empty APDU")
	}
	apdu.DataType = PDUType(data[0] & 0xF0)
	switch apdu.DataType {
	case ConfirmedServiceRequest:
		if len(data) < 4 {
			return fmt.Errorf("truncated confirmed request APDU: %d bytes", len(data))
		}
		if data[0]&confirmedFlagSegmented > 0 || data[0]&confirmedFlagMoreFollows > 0 {
			return ErrSegmentationUnsupported
		}
		// data[1] carries max-segments / max-apdu, irrelevant for an
		// unsegmented exchange
		apdu.InvokeID = data[2]
		apdu.ServiceType = ServiceType(data[3])
		data = data[4:]
	case UnconfirmedServiceRequest:
		if len(data) < 2 {
			return fmt.Errorf("truncated unconfirmed request APDU: %d bytes", len(data))
		}
		apdu.ServiceType = ServiceType(data[1])
		data = data[2:]
	case ComplexAck:
		if len(data) < 3 {
			return fmt.Errorf("truncated complex ack APDU: %d bytes", len(data))
		}
		if data[0]&confirmedFlagSegmented > 0 {
			return ErrSegmentationUnsupported
		}
		apdu.InvokeID = data[1]
		apdu.ServiceType = ServiceType(data[2])
		data = data[3:]
	default:
		return fmt.Errorf("%w: 0x%x", ErrUnsupportedPDUType, byte(apdu.DataType))
	}

	switch {
	case apdu.DataType == UnconfirmedServiceRequest && apdu.ServiceType == ServiceUnconfirmedWhoIs:
		apdu.Payload = &WhoIs{}
	case apdu.DataType == UnconfirmedServiceRequest && apdu.ServiceType == ServiceUnconfirmedIAm:
		apdu.Payload = &Iam{}
	case apdu.DataType == ConfirmedServiceRequest && apdu.ServiceType == ServiceConfirmedReadProperty:
		apdu.Payload = &ReadPropertyRequest{}
	case apdu.DataType == ComplexAck && apdu.ServiceType == ServiceConfirmedReadProperty:
		apdu.Payload = &ReadPropertyAck{}
	default:
		// Raw pass through for service bodies this gateway doesn't
		// interpret
		apdu.Payload = &DataPayload{}
	}
	return apdu.Payload.UnmarshalBinary(data)
}

type Payload interface {
	MarshalBinary() ([]byte, error)
	UnmarshalBinary([]byte) error
}

type DataPayload struct {
	Bytes []byte
}

func (p DataPayload) MarshalBinary() ([]byte, error) {
	return p.Bytes, nil
}

func (p *DataPayload) UnmarshalBinary(data []byte) error {
	p.Bytes = make([]byte, len(data))
	copy(p.Bytes, data)
	return nil
}
