package bacip

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/matryer/is"

	"github.com/edgehaus/bacnet-mqtt-gateway/bacnet"
)

func TestNPDUCoherency(t *testing.T) {
	ttc := []struct {
		name string
		npdu NPDU
	}{
		{
			name: "Plain",
			npdu: NPDU{
				Version:  Version1,
				Priority: Normal,
			},
		},
		{
			name: "ExpectingReply",
			npdu: NPDU{
				Version:        Version1,
				ExpectingReply: true,
				Priority:       Urgent,
			},
		},
		{
			name: "WithDestination",
			npdu: NPDU{
				Version:     Version1,
				Priority:    Normal,
				Destination: &Route{Net: 0xffff, Adr: []byte{}},
				HopCount:    255,
			},
		},
		{
			name: "WithSourceAndDestination",
			npdu: NPDU{
				Version:     Version1,
				Priority:    Normal,
				Destination: &Route{Net: 0xffff, Adr: []byte{}},
				Source:      &Route{Net: 5, Adr: []byte{0x01, 0x02}},
				HopCount:    254,
			},
		},
	}
	for _, tc := range ttc {
		t.Run(tc.name, func(t *testing.T) {
			is := is.New(t)
			data, err := tc.npdu.MarshalBinary()
			is.NoErr(err)
			decoded := NPDU{}
			consumed, err := decoded.UnmarshalBinary(data)
			is.NoErr(err)
			is.Equal(consumed, len(data))
			is.Equal(decoded, tc.npdu)
		})
	}
}

func TestNPDUTruncated(t *testing.T) {
	//A destination flag with no destination bytes behind it
	data := []byte{0x01, 0x20}
	npdu := NPDU{}
	if _, err := npdu.UnmarshalBinary(data); err == nil {
		t.Fatal("expected an error on truncated NPDU")
	}
}

func TestAPDUEncoding(t *testing.T) {
	ttc := []struct {
		apdu    APDU
		encoded string //hex string
	}{
		{
			apdu: APDU{
				DataType:    UnconfirmedServiceRequest,
				ServiceType: ServiceUnconfirmedWhoIs,
				Payload:     &WhoIs{},
			},
			encoded: "1008",
		},
		{
			apdu: APDU{
				DataType:    ConfirmedServiceRequest,
				ServiceType: ServiceConfirmedReadProperty,
				InvokeID:    1,
				Payload: &ReadPropertyRequest{
					ObjectID: bacnet.ObjectID{
						Type:     bacnet.AnalogOutput,
						Instance: 8121,
					},
					Property: bacnet.PropertyIdentifier{
						Type: bacnet.Units,
					},
				},
			},
			encoded: "0205010c0c00401fb91975",
		},
		{
			apdu: APDU{
				DataType:    ComplexAck,
				ServiceType: ServiceConfirmedReadProperty,
				InvokeID:    0x0b,
				Payload: &ReadPropertyAck{
					ObjectID: bacnet.ObjectID{
						Type:     bacnet.AnalogInput,
						Instance: 0,
					},
					Property: bacnet.PropertyIdentifier{
						Type: bacnet.PresentValue,
					},
					Value: float32(24.5),
				},
			},
			encoded: "300b0c0c0000000019553e4441c400003f",
		},
	}
	for _, tc := range ttc {
		t.Run(tc.encoded, func(t *testing.T) {
			is := is.New(t)
			result, err := tc.apdu.MarshalBinary()
			is.NoErr(err)
			is.Equal(hex.EncodeToString(result), tc.encoded)
			decoded := APDU{}
			is.NoErr(decoded.UnmarshalBinary(result))
			is.Equal(decoded.DataType, tc.apdu.DataType)
			is.Equal(decoded.ServiceType, tc.apdu.ServiceType)
			is.Equal(decoded.InvokeID, tc.apdu.InvokeID)
			result2, err := decoded.MarshalBinary()
			is.NoErr(err)
			is.Equal(hex.EncodeToString(result2), tc.encoded)
		})
	}
}

func TestAPDUDecodeErrors(t *testing.T) {
	ttc := []struct {
		name string
		data string //hex string
		want error
	}{
		{
			name: "Empty",
			data: "",
		},
		{
			name: "SegmentedConfirmedRequest",
			data: "0a75010c",
			want: ErrSegmentationUnsupported,
		},
		{
			name: "SegmentedComplexAck",
			data: "38010c",
			want: ErrSegmentationUnsupported,
		},
		{
			name: "UnknownPDUType",
			data: "50010c",
			want: ErrUnsupportedPDUType,
		},
		{
			name: "TruncatedConfirmedRequest",
			data: "0205",
		},
	}
	for _, tc := range ttc {
		t.Run(tc.name, func(t *testing.T) {
			b, err := hex.DecodeString(tc.data)
			if err != nil {
				t.Fatal(err)
			}
			apdu := APDU{}
			err = apdu.UnmarshalBinary(b)
			if err == nil {
				t.Fatal("expected a decode error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("wrong error: got %v want %v", err, tc.want)
			}
		})
	}
}

func TestUnknownServicePassthrough(t *testing.T) {
	is := is.New(t)
	//Unconfirmed TimeSynchronization, a service the gateway doesn't
	//interpret
	data, err := hex.DecodeString("1006a46c081e05")
	is.NoErr(err)
	apdu := APDU{}
	is.NoErr(apdu.UnmarshalBinary(data))
	payload, ok := apdu.Payload.(*DataPayload)
	is.True(ok)
	is.Equal(hex.EncodeToString(payload.Bytes), "a46c081e05")
}
