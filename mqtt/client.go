//Package mqtt wraps the paho client with the publish surface the
//bridge needs: retained auto-discovery configs and state updates
package mqtt

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

const (
	keepAlive      = 5 * time.Second
	reconnectDelay = 3 * time.Second
	publishTimeout = 5 * time.Second
	publishQoS     = 1
)

//DiscoveryPayload is the retained JSON config message an
//auto-discovery capable consumer (Home Assistant convention) uses to
//register a sensor
type DiscoveryPayload struct {
	Name         string     `json:"name"`
	StateTopic   string     `json:"state_topic"`
	CommandTopic string     `json:"command_topic,omitempty"`
	UniqueID     string     `json:"unique_id"`
	Device       DeviceInfo `json:"device"`
}

//DeviceInfo is the device block of a discovery payload
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

type Options struct {
	BrokerHost      string
	BrokerPort      int
	Username        string
	Password        string
	DiscoveryPrefix string
}

//Client is a thin wrapper over one paho connection. Reconnection is
//the paho loop's job: fixed delay, retries forever
type Client struct {
	mqtt            paho.Client
	discoveryPrefix string
	log             *log.Entry
}

func NewClient(opts Options) *Client {
	logger := log.WithField("module", "mqtt")
	pahoOpts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", opts.BrokerHost, opts.BrokerPort)).
		SetClientID(fmt.Sprintf("bacnet-gateway-%d", os.Getpid())).
		SetKeepAlive(keepAlive).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(reconnectDelay).
		SetMaxReconnectInterval(reconnectDelay)
	if opts.Username != "" {
		pahoOpts.SetUsername(opts.Username)
		pahoOpts.SetPassword(opts.Password)
	}
	pahoOpts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.WithError(err).Error("connection lost, reconnecting")
	})
	pahoOpts.SetOnConnectHandler(func(_ paho.Client) {
		logger.Info("connected to broker")
	})
	return &Client{
		mqtt:            paho.NewClient(pahoOpts),
		discoveryPrefix: opts.DiscoveryPrefix,
		log:             logger,
	}
}

//Connect starts the session. The connect retry loop keeps trying in
//the background, so a broker outage at startup is not fatal
func (c *Client) Connect() {
	token := c.mqtt.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			c.log.WithError(err).Error("initial connect failed")
		}
	}()
}

func (c *Client) Close() {
	c.mqtt.Disconnect(250)
}

//PublishDiscovery publishes the retained config payload under
//<prefix>/<component>/<uniqueID>/config
func (c *Client) PublishDiscovery(component, uniqueID string, payload DiscoveryPayload) error {
	topic := fmt.Sprintf("%s/%s/%s/config", c.discoveryPrefix, component, uniqueID)
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal discovery payload: %w", err)
	}
	return c.publish(topic, body)
}

//PublishState publishes a bare text value, retained
func (c *Client) PublishState(topic, value string) error {
	return c.publish(topic, []byte(value))
}

func (c *Client) publish(topic string, body []byte) error {
	token := c.mqtt.Publish(topic, publishQoS, true, body)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

//Subscribe routes incoming messages below the given topic filter to
//the handler
func (c *Client) Subscribe(filter string, handler func(topic string, payload []byte)) error {
	token := c.mqtt.Subscribe(filter, publishQoS, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe %s: timeout", filter)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}
	return nil
}
