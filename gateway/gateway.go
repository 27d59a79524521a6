//Package gateway wires the BACnet client, the device registry, the
//poller and the MQTT publisher together into the running bridge
package gateway

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/edgehaus/bacnet-mqtt-gateway/bacip"
	"github.com/edgehaus/bacnet-mqtt-gateway/mqtt"
)

type Gateway struct {
	cfg      *Config
	client   *bacip.Client
	mqtt     *mqtt.Client
	registry *Registry
	metrics  *Metrics
	bridge   *Bridge
	poller   *Poller
	status   *StatusServer
	log      *log.Entry
}

func New(cfg *Config) (*Gateway, error) {
	logger := log.WithField("module", "gateway")

	client, err := bacip.NewClient(bacip.Config{
		BindAddress:    cfg.Bacnet.BindAddress,
		Port:           cfg.Bacnet.Port,
		RequestTimeout: cfg.Bacnet.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create bacnet client: %w", err)
	}
	client.Logger = log.WithField("module", "bacip")

	mqttClient := mqtt.NewClient(mqtt.Options{
		BrokerHost:      cfg.Mqtt.BrokerHost,
		BrokerPort:      cfg.Mqtt.BrokerPort,
		Username:        cfg.Mqtt.Username,
		Password:        cfg.Mqtt.Password,
		DiscoveryPrefix: cfg.Mqtt.DiscoveryPrefix,
	})

	registry := NewRegistry(cfg.Bacnet.StaleAfter)
	metrics := NewMetrics()
	bridge := NewBridge(registry, mqttClient, metrics, cfg.Mqtt.DiscoveryPrefix, cfg.Device)
	poller := NewPoller(registry, client, metrics, cfg.Bacnet.PollInterval, cfg.Bacnet.DiscoveryInterval)

	gw := &Gateway{
		cfg:      cfg,
		client:   client,
		mqtt:     mqttClient,
		registry: registry,
		metrics:  metrics,
		bridge:   bridge,
		poller:   poller,
		log:      logger,
	}
	if cfg.Status.Enable {
		gw.status = NewStatusServer(registry, metrics, cfg.Bacnet.StaleAfter, cfg.Status.Listen)
	}
	client.OnTimeout = func(req bacip.PendingRequest) {
		metrics.RequestsTimedOut.Inc()
	}
	return gw, nil
}

//Run starts every component and blocks until the context is
//cancelled or the status server fails
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.mqtt.Connect()
	defer g.mqtt.Close()
	defer g.client.Close()

	commandFilter := fmt.Sprintf("%s/command/#", g.cfg.Mqtt.BaseTopic)
	if err := g.mqtt.Subscribe(commandFilter, g.handleCommand); err != nil {
		g.log.WithError(err).Warn("command subscription failed, writes disabled")
	}

	events := g.client.Start(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.poller.Run(ctx)
	}()

	errc := make(chan error, 1)
	if g.status != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.status.Run(ctx); err != nil {
				select {
				case errc <- fmt.Errorf("status server: %w", err):
				default:
				}
				cancel()
			}
		}()
	}

	g.log.WithFields(log.Fields{
		"bind":   fmt.Sprintf("%s:%d", g.cfg.Bacnet.BindAddress, g.cfg.Bacnet.Port),
		"broker": fmt.Sprintf("%s:%d", g.cfg.Mqtt.BrokerHost, g.cfg.Mqtt.BrokerPort),
	}).Info("gateway started")

	for event := range events {
		g.bridge.Handle(event)
	}
	cancel()
	wg.Wait()

	select {
	case err := <-errc:
		return err
	default:
	}
	return nil
}

//handleCommand receives messages below <base>/command/. Property
//writes are not implemented, commands are only surfaced in the log
func (g *Gateway) handleCommand(topic string, payload []byte) {
	g.log.WithFields(log.Fields{
		"topic":   topic,
		"payload": string(payload),
	}).Info("command received, write support not implemented")
}
