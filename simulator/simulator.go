//Package simulator implements a minimal BACnet device for exercising
//the gateway without hardware: it answers WhoIs with IAm and
//ReadProperty with a drifting analog value
package simulator

import (
	"context"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/edgehaus/bacnet-mqtt-gateway/bacip"
	"github.com/edgehaus/bacnet-mqtt-gateway/bacnet"
)

//DefaultPort keeps the simulator off the gateway's own socket so both
//can run on one host
const DefaultPort = 47809

type Config struct {
	BindAddress string
	Port        int
	//Instance of the simulated device
	Instance uint32
	//Value the simulated analog input oscillates around
	BaseValue float32
}

type Simulator struct {
	cfg    Config
	client *bacip.Client
	start  time.Time
	log    *log.Entry
}

func New(cfg Config) (*Simulator, error) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	client, err := bacip.NewClient(bacip.Config{
		BindAddress: cfg.BindAddress,
		Port:        cfg.Port,
	})
	if err != nil {
		return nil, err
	}
	logger := log.WithField("module", "simulator")
	client.Logger = logger
	return &Simulator{
		cfg:    cfg,
		client: client,
		start:  time.Now(),
		log:    logger,
	}, nil
}

//How often the simulator re-announces itself. The gateway listens on
//the standard port, so broadcasts are the only way it learns about a
//device bound elsewhere
const announceInterval = time.Minute

//Run answers requests until the context is cancelled
func (s *Simulator) Run(ctx context.Context) error {
	defer s.client.Close()
	events := s.client.Start(ctx)
	s.log.WithFields(log.Fields{
		"instance": s.cfg.Instance,
		"addr":     s.client.LocalAddr().String(),
	}).Info("simulator started")

	s.announce()
	go s.announceLoop(ctx)

	for event := range events {
		switch ev := event.(type) {
		case bacip.WhoIsEvent:
			s.handleWhoIs(ev)
		case bacip.ReadPropertyRequestEvent:
			s.handleReadProperty(ev)
		}
	}
	return nil
}

func (s *Simulator) announceLoop(ctx context.Context) {
	ticker := time.NewTicker(announceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.announce()
		}
	}
}

func (s *Simulator) announce() {
	if err := s.client.BroadcastIAm(s.iam()); err != nil {
		s.log.WithError(err).Error("broadcast IAm")
	}
}

func (s *Simulator) iam() bacip.Iam {
	return bacip.Iam{
		ObjectID: bacnet.ObjectID{
			Type:     bacnet.DeviceType,
			Instance: bacnet.ObjectInstance(s.cfg.Instance),
		},
		MaxApduLength:       1476,
		SegmentationSupport: bacnet.SegmentationSupportNone,
		VendorID:            260,
	}
}

func (s *Simulator) handleWhoIs(ev bacip.WhoIsEvent) {
	if ev.Request.Low != nil && ev.Request.High != nil {
		if s.cfg.Instance < *ev.Request.Low || s.cfg.Instance > *ev.Request.High {
			return
		}
	}
	if err := s.client.SendIAm(ev.Source, s.iam()); err != nil {
		s.log.WithError(err).Error("send IAm")
		return
	}
	s.log.WithField("dest", ev.Source.String()).Debug("IAm sent")
}

func (s *Simulator) handleReadProperty(ev bacip.ReadPropertyRequestEvent) {
	ack := bacip.ReadPropertyAck{
		ObjectID: ev.Request.ObjectID,
		Property: ev.Request.Property,
		Value:    s.presentValue(),
	}
	if err := s.client.SendReadPropertyAck(ev.Source, ev.InvokeID, ack); err != nil {
		s.log.WithError(err).Error("send ack")
		return
	}
	s.log.WithFields(log.Fields{
		"dest":     ev.Source.String(),
		"invokeID": ev.InvokeID,
	}).Debug("ack sent")
}

//presentValue oscillates slowly so state changes are visible on the
//MQTT side
func (s *Simulator) presentValue() float32 {
	elapsed := time.Since(s.start).Seconds()
	return s.cfg.BaseValue + 2*float32(math.Sin(elapsed/30))
}
