package gateway

import (
	"context"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/edgehaus/bacnet-mqtt-gateway/bacnet"
)

//PropertyReader is the protocol surface the poller needs. Satisfied
//by *bacip.Client
type PropertyReader interface {
	Discover() error
	ReadProperty(target *net.UDPAddr, object bacnet.ObjectID, property bacnet.PropertyType) (byte, error)
}

//Poller periodically reads the present value of analog input 0 on
//every fresh device, and re-broadcasts discovery so devices that
//joined after startup still show up
type Poller struct {
	registry          *Registry
	reader            PropertyReader
	metrics           *Metrics
	pollInterval      time.Duration
	discoveryInterval time.Duration
	log               *log.Entry
}

func NewPoller(registry *Registry, reader PropertyReader, metrics *Metrics, pollInterval, discoveryInterval time.Duration) *Poller {
	return &Poller{
		registry:          registry,
		reader:            reader,
		metrics:           metrics,
		pollInterval:      pollInterval,
		discoveryInterval: discoveryInterval,
		log:               log.WithField("module", "poller"),
	}
}

//Run blocks until the context is cancelled
func (p *Poller) Run(ctx context.Context) {
	p.discover()

	pollTicker := time.NewTicker(p.pollInterval)
	defer pollTicker.Stop()
	discoveryTicker := time.NewTicker(p.discoveryInterval)
	defer discoveryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.pollAll()
		case <-discoveryTicker.C:
			p.discover()
		}
	}
}

func (p *Poller) discover() {
	if err := p.reader.Discover(); err != nil {
		p.log.WithError(err).Error("broadcast WhoIs")
		return
	}
	p.metrics.WhoIsSent.Inc()
}

func (p *Poller) pollAll() {
	object := bacnet.ObjectID{Type: bacnet.AnalogInput, Instance: 0}
	for _, dev := range p.registry.Fresh(time.Now()) {
		invokeID, err := p.reader.ReadProperty(dev.Addr, object, bacnet.PresentValue)
		if err != nil {
			p.log.WithError(err).WithField("instance", dev.ID.Instance).Error("read present value")
			continue
		}
		p.metrics.PollsSent.Inc()
		p.log.WithFields(log.Fields{
			"instance": dev.ID.Instance,
			"invokeID": invokeID,
		}).Debug("poll sent")
	}
}
