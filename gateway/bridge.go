package gateway

import (
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/edgehaus/bacnet-mqtt-gateway/bacip"
	"github.com/edgehaus/bacnet-mqtt-gateway/bacnet"
	"github.com/edgehaus/bacnet-mqtt-gateway/internal/encoding"
	"github.com/edgehaus/bacnet-mqtt-gateway/mqtt"
)

//Publisher is the MQTT surface the bridge needs. Satisfied by
//*mqtt.Client
type Publisher interface {
	PublishDiscovery(component, uniqueID string, payload mqtt.DiscoveryPayload) error
	PublishState(topic, value string) error
}

//Bridge turns protocol events into MQTT traffic. One goroutine feeds
//it, so no locking beyond what the registry does itself
type Bridge struct {
	registry        *Registry
	publisher       Publisher
	metrics         *Metrics
	discoveryPrefix string
	deviceInfo      Device
	//devices whose discovery config made it to the broker. A failed
	//publish leaves no retained config behind, so the next IAm retries
	announced map[bacnet.ObjectInstance]bool
	log       *log.Entry
}

func NewBridge(registry *Registry, publisher Publisher, metrics *Metrics, prefix string, info Device) *Bridge {
	return &Bridge{
		registry:        registry,
		publisher:       publisher,
		metrics:         metrics,
		discoveryPrefix: prefix,
		deviceInfo:      info,
		announced:       map[bacnet.ObjectInstance]bool{},
		log:             log.WithField("module", "bridge"),
	}
}

//Handle processes one protocol event
func (b *Bridge) Handle(event bacip.Event) {
	switch ev := event.(type) {
	case bacip.IAmEvent:
		b.handleIAm(ev)
	case bacip.WhoIsEvent:
		b.log.WithField("source", ev.Source.String()).Debug("ignoring WhoIs, not a server")
	case bacip.ReadPropertyRequestEvent:
		b.log.WithField("source", ev.Source.String()).Debug("ignoring ReadProperty request, not a server")
	case bacip.ReadPropertyAckEvent:
		b.handleAck(ev)
	}
}

func (b *Bridge) handleIAm(ev bacip.IAmEvent) {
	b.metrics.IAmReceived.Inc()
	if ev.Request.ObjectID.Type != bacnet.DeviceType {
		b.log.WithField("object", fmt.Sprintf("%v", ev.Request.ObjectID)).Debug("IAm for non device object")
		return
	}
	dev := bacnet.Device{
		ID:           ev.Request.ObjectID,
		MaxApdu:      ev.Request.MaxApduLength,
		Segmentation: ev.Request.SegmentationSupport,
		Vendor:       ev.Request.VendorID,
		Addr:         ev.Source,
	}
	announce := b.registry.Upsert(dev, time.Now())
	logger := b.log.WithFields(log.Fields{
		"instance": dev.ID.Instance,
		"address":  ev.Source.String(),
	})
	if announce {
		b.metrics.DevicesDiscovered.Inc()
		logger.Info("device discovered")
	} else if b.announced[dev.ID.Instance] {
		logger.Debug("device re-announced")
		return
	}

	uid := uniqueID(dev.ID.Instance)
	payload := mqtt.DiscoveryPayload{
		Name:       fmt.Sprintf("BACnet %d", dev.ID.Instance),
		StateTopic: b.stateTopic(dev.ID.Instance),
		UniqueID:   uid,
		Device: mqtt.DeviceInfo{
			Identifiers:  []string{uid},
			Name:         b.deviceInfo.Name,
			Manufacturer: b.deviceInfo.Manufacturer,
			Model:        b.deviceInfo.Model,
		},
	}
	if err := b.publisher.PublishDiscovery("sensor", uid, payload); err != nil {
		b.metrics.PublishFailures.Inc()
		logger.WithError(err).Error("publish discovery config")
		return
	}
	b.announced[dev.ID.Instance] = true
	b.metrics.ConfigsPublished.Inc()
	if err := b.publisher.PublishState(b.stateTopic(dev.ID.Instance), "online"); err != nil {
		b.metrics.PublishFailures.Inc()
		logger.WithError(err).Error("publish online state")
	}
}

func (b *Bridge) handleAck(ev bacip.ReadPropertyAckEvent) {
	dev, ok := b.registry.Resolve(ev.Source)
	if !ok {
		b.metrics.UnresolvedAcks.Inc()
		b.log.WithField("source", ev.Source.String()).Warn("ack from unknown device, dropping")
		return
	}
	b.registry.Touch(dev.ID.Instance, time.Now())

	if ev.Ack.Property.Type != bacnet.PresentValue {
		b.log.WithFields(log.Fields{
			"instance": dev.ID.Instance,
			"property": uint32(ev.Ack.Property.Type),
		}).Debug("ack for property other than present value, dropping")
		return
	}
	value, ok := formatValue(ev.Ack.Value)
	if !ok {
		b.log.WithFields(log.Fields{
			"instance": dev.ID.Instance,
			"value":    describeValue(ev.Ack.Value),
		}).Debug("unsupported property value type")
		return
	}
	if err := b.publisher.PublishState(b.stateTopic(dev.ID.Instance), value); err != nil {
		b.metrics.PublishFailures.Inc()
		b.log.WithError(err).WithField("instance", dev.ID.Instance).Error("publish state")
		return
	}
	b.metrics.ValuesPublished.Inc()
}

func (b *Bridge) stateTopic(instance bacnet.ObjectInstance) string {
	return fmt.Sprintf("%s/sensor/%s/state", b.discoveryPrefix, uniqueID(instance))
}

func uniqueID(instance bacnet.ObjectInstance) string {
	return fmt.Sprintf("bacnet_%d", instance)
}

//describeValue renders an unpublishable value for the log. Raw values
//keep their tag and bytes so the frame can be reconstructed
func describeValue(v interface{}) string {
	if raw, ok := v.(encoding.RawValue); ok {
		return fmt.Sprintf("tag %d bytes 0x%x", raw.Tag, raw.Bytes)
	}
	return fmt.Sprintf("%T", v)
}

//formatValue renders a decoded property value as the state string.
//Raw values we cannot interpret are not published
func formatValue(v interface{}) (string, bool) {
	switch val := v.(type) {
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), true
	case uint32:
		return strconv.FormatUint(uint64(val), 10), true
	case string:
		return val, true
	case encoding.RawValue:
		return "", false
	default:
		return "", false
	}
}
