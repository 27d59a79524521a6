package gateway

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Device Device `yaml:"device" json:"device"`
	Bacnet Bacnet `yaml:"bacnet" json:"bacnet"`
	Mqtt   Mqtt   `yaml:"mqtt" json:"mqtt"`
	Status Status `yaml:"status" json:"status"`
}

//Device describes the gateway itself as seen from the MQTT side
type Device struct {
	Instance     uint32 `yaml:"instance" json:"instance" default:"12345"`
	Name         string `yaml:"name" json:"name" default:"BACnet Gateway"`
	Manufacturer string `yaml:"manufacturer" json:"manufacturer" default:"edgehaus"`
	Model        string `yaml:"model" json:"model" default:"bacnet-mqtt-gateway"`
}

type Bacnet struct {
	BindAddress       string        `yaml:"bindAddress" json:"bindAddress" default:"0.0.0.0"`
	Port              int           `yaml:"port" json:"port" default:"47808"`
	RequestTimeout    time.Duration `yaml:"requestTimeout" json:"requestTimeout" default:"5s"`
	PollInterval      time.Duration `yaml:"pollInterval" json:"pollInterval" default:"10s"`
	DiscoveryInterval time.Duration `yaml:"discoveryInterval" json:"discoveryInterval" default:"5m"`
	StaleAfter        time.Duration `yaml:"staleAfter" json:"staleAfter" default:"15m"`
}

type Mqtt struct {
	BrokerHost      string `yaml:"brokerHost" json:"brokerHost" default:"127.0.0.1"`
	BrokerPort      int    `yaml:"brokerPort" json:"brokerPort" default:"1883"`
	Username        string `yaml:"username,omitempty" json:"username,omitempty"`
	Password        string `yaml:"password,omitempty" json:"password,omitempty"`
	DiscoveryPrefix string `yaml:"discoveryPrefix" json:"discoveryPrefix" default:"homeassistant"`
	BaseTopic       string `yaml:"baseTopic" json:"baseTopic" default:"bacnet"`
}

type Status struct {
	Enable bool   `yaml:"enable" json:"enable" default:"true"`
	Listen string `yaml:"listen" json:"listen" default:":8080"`
}

//LoadConfig reads the yaml file at path if it exists and fills in
//defaults for everything left unset. A missing file yields a pure
//default config
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}
	return &cfg, nil
}
