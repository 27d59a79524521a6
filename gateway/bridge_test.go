package gateway

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgehaus/bacnet-mqtt-gateway/bacip"
	"github.com/edgehaus/bacnet-mqtt-gateway/bacnet"
	"github.com/edgehaus/bacnet-mqtt-gateway/internal/encoding"
	"github.com/edgehaus/bacnet-mqtt-gateway/mqtt"
)

type publishedState struct {
	topic string
	value string
}

type fakePublisher struct {
	discoveries map[string]mqtt.DiscoveryPayload
	states      []publishedState
	fail        error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{discoveries: map[string]mqtt.DiscoveryPayload{}}
}

func (f *fakePublisher) PublishDiscovery(component, uniqueID string, payload mqtt.DiscoveryPayload) error {
	if f.fail != nil {
		return f.fail
	}
	f.discoveries[component+"/"+uniqueID] = payload
	return nil
}

func (f *fakePublisher) PublishState(topic, value string) error {
	if f.fail != nil {
		return f.fail
	}
	f.states = append(f.states, publishedState{topic: topic, value: value})
	return nil
}

func testBridge() (*Bridge, *fakePublisher, *Registry) {
	registry := NewRegistry(15 * time.Minute)
	publisher := newFakePublisher()
	bridge := NewBridge(registry, publisher, NewMetrics(), "homeassistant", Device{
		Name:         "BACnet Gateway",
		Manufacturer: "edgehaus",
		Model:        "bacnet-mqtt-gateway",
	})
	return bridge, publisher, registry
}

func iamEvent(instance bacnet.ObjectInstance, ip string) bacip.IAmEvent {
	return bacip.IAmEvent{
		Request: bacip.Iam{
			ObjectID:            bacnet.ObjectID{Type: bacnet.DeviceType, Instance: instance},
			MaxApduLength:       1476,
			SegmentationSupport: bacnet.SegmentationSupportNone,
			VendorID:            260,
		},
		Source: &net.UDPAddr{IP: net.ParseIP(ip), Port: 47808},
	}
}

func TestBridgeIAmPublishesDiscovery(t *testing.T) {
	bridge, publisher, _ := testBridge()

	bridge.Handle(iamEvent(42, "192.168.1.20"))

	payload, ok := publisher.discoveries["sensor/bacnet_42"]
	require.True(t, ok, "discovery config published under sensor/bacnet_42")
	assert.Equal(t, "BACnet 42", payload.Name)
	assert.Equal(t, "homeassistant/sensor/bacnet_42/state", payload.StateTopic)
	assert.Equal(t, "bacnet_42", payload.UniqueID)
	assert.Equal(t, []string{"bacnet_42"}, payload.Device.Identifiers)
	assert.Equal(t, "edgehaus", payload.Device.Manufacturer)

	require.Len(t, publisher.states, 1)
	assert.Equal(t, "homeassistant/sensor/bacnet_42/state", publisher.states[0].topic)
	assert.Equal(t, "online", publisher.states[0].value)
}

func TestBridgeIAmOnlyAnnouncesOnce(t *testing.T) {
	bridge, publisher, _ := testBridge()

	bridge.Handle(iamEvent(42, "192.168.1.20"))
	bridge.Handle(iamEvent(42, "192.168.1.20"))

	assert.Len(t, publisher.discoveries, 1)
	assert.Len(t, publisher.states, 1)
}

func TestBridgeIgnoresNonDeviceIAm(t *testing.T) {
	bridge, publisher, registry := testBridge()

	ev := iamEvent(42, "192.168.1.20")
	ev.Request.ObjectID.Type = bacnet.AnalogInput
	bridge.Handle(ev)

	assert.Empty(t, publisher.discoveries)
	assert.Equal(t, 0, registry.Len())
}

func TestBridgeAckPublishesValue(t *testing.T) {
	bridge, publisher, _ := testBridge()

	bridge.Handle(iamEvent(7, "192.168.1.30"))
	publisher.states = nil

	bridge.Handle(bacip.ReadPropertyAckEvent{
		Ack: bacip.ReadPropertyAck{
			ObjectID: bacnet.ObjectID{Type: bacnet.AnalogInput, Instance: 0},
			Property: bacnet.PropertyIdentifier{Type: bacnet.PresentValue},
			Value:    float32(24.5),
		},
		InvokeID: 3,
		Source:   &net.UDPAddr{IP: net.ParseIP("192.168.1.30"), Port: 47808},
	})

	require.Len(t, publisher.states, 1)
	assert.Equal(t, "homeassistant/sensor/bacnet_7/state", publisher.states[0].topic)
	assert.Equal(t, "24.5", publisher.states[0].value)
}

func TestBridgeAckForOtherPropertyDropped(t *testing.T) {
	bridge, publisher, _ := testBridge()

	bridge.Handle(iamEvent(7, "192.168.1.30"))
	publisher.states = nil

	bridge.Handle(bacip.ReadPropertyAckEvent{
		Ack: bacip.ReadPropertyAck{
			ObjectID: bacnet.ObjectID{Type: bacnet.AnalogInput, Instance: 0},
			Property: bacnet.PropertyIdentifier{Type: bacnet.Units},
			Value:    uint32(98),
		},
		InvokeID: 3,
		Source:   &net.UDPAddr{IP: net.ParseIP("192.168.1.30"), Port: 47808},
	})

	assert.Empty(t, publisher.states)
}

func TestBridgeRetriesDiscoveryAfterFailure(t *testing.T) {
	bridge, publisher, _ := testBridge()

	publisher.fail = errors.New("broker down")
	bridge.Handle(iamEvent(42, "192.168.1.20"))
	assert.Empty(t, publisher.discoveries)

	publisher.fail = nil
	bridge.Handle(iamEvent(42, "192.168.1.20"))

	payload, ok := publisher.discoveries["sensor/bacnet_42"]
	require.True(t, ok, "discovery config published on re-announce")
	assert.Equal(t, "bacnet_42", payload.UniqueID)

	bridge.Handle(iamEvent(42, "192.168.1.20"))
	assert.Len(t, publisher.states, 1, "no re-publish once the config stuck")
}

func TestBridgeAckFromUnknownDeviceDropped(t *testing.T) {
	bridge, publisher, _ := testBridge()

	bridge.Handle(bacip.ReadPropertyAckEvent{
		Ack: bacip.ReadPropertyAck{
			ObjectID: bacnet.ObjectID{Type: bacnet.AnalogInput, Instance: 0},
			Property: bacnet.PropertyIdentifier{Type: bacnet.PresentValue},
			Value:    float32(24.5),
		},
		Source: &net.UDPAddr{IP: net.ParseIP("10.0.0.99"), Port: 47808},
	})

	assert.Empty(t, publisher.states)
	assert.Equal(t, int64(1), bridge.metrics.UnresolvedAcks.Value())
}

func TestBridgeAckRefreshesLastSeen(t *testing.T) {
	bridge, _, registry := testBridge()

	bridge.Handle(iamEvent(7, "192.168.1.30"))
	before := registry.Snapshot()[0].LastSeen

	time.Sleep(10 * time.Millisecond)
	bridge.Handle(bacip.ReadPropertyAckEvent{
		Ack: bacip.ReadPropertyAck{
			ObjectID: bacnet.ObjectID{Type: bacnet.AnalogInput, Instance: 0},
			Property: bacnet.PropertyIdentifier{Type: bacnet.PresentValue},
			Value:    float32(1),
		},
		Source: &net.UDPAddr{IP: net.ParseIP("192.168.1.30"), Port: 47808},
	})

	assert.True(t, registry.Snapshot()[0].LastSeen.After(before))
}

func TestDescribeValue(t *testing.T) {
	raw := encoding.RawValue{Tag: 10, Bytes: []byte{0x6c, 0x08, 0x1e, 0x05}}
	assert.Equal(t, "tag 10 bytes 0x6c081e05", describeValue(raw))
	assert.Equal(t, "bool", describeValue(true))
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
		ok   bool
	}{
		{in: float32(24.5), want: "24.5", ok: true},
		{in: float32(20), want: "20", ok: true},
		{in: float32(-3.25), want: "-3.25", ok: true},
		{in: uint32(98), want: "98", ok: true},
		{in: "running", want: "running", ok: true},
		{in: encoding.RawValue{Tag: 10, Bytes: []byte{1, 2}}, ok: false},
		{in: nil, ok: false},
	}
	for _, tc := range tests {
		got, ok := formatValue(tc.in)
		assert.Equal(t, tc.ok, ok)
		if tc.ok {
			assert.Equal(t, tc.want, got)
		}
	}
}
