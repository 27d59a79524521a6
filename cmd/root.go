//Package cmd holds the gateway's command line interface
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgehaus/bacnet-mqtt-gateway/gateway"
)

//Version is overridden at build time with -ldflags
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "bacnet-mqtt-gateway",
	Short: "Bridge BACnet/IP devices onto an MQTT broker",
	Long: `bacnet-mqtt-gateway discovers BACnet/IP devices on the local network,
polls their present values and publishes them to an MQTT broker using
Home Assistant style auto-discovery topics.

Examples:
  # Run with the default configuration
  bacnet-mqtt-gateway

  # Run against a specific broker
  bacnet-mqtt-gateway --broker 10.0.0.5

  # Run a simulated BACnet device for testing
  bacnet-mqtt-gateway simulate --instance 42`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := gateway.LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		applyOverrides(cfg)

		gw, err := gateway.New(cfg)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return gw.Run(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("bacnet-mqtt-gateway", Version)
	},
}

func init() {
	cobra.OnInitialize(initEnv)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().String("broker", "", "MQTT broker host")
	rootCmd.Flags().Int("broker-port", 0, "MQTT broker port")
	rootCmd.Flags().String("bind", "", "BACnet/IP bind address")

	viper.BindPFlag("broker", rootCmd.Flags().Lookup("broker"))
	viper.BindPFlag("broker-port", rootCmd.Flags().Lookup("broker-port"))
	viper.BindPFlag("bind", rootCmd.Flags().Lookup("bind"))

	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(versionCmd)
}

func initEnv() {
	viper.SetEnvPrefix("GATEWAY")
	viper.AutomaticEnv()
}

//applyOverrides lets flags and GATEWAY_* environment variables win
//over the config file
func applyOverrides(cfg *gateway.Config) {
	if broker := viper.GetString("broker"); broker != "" {
		cfg.Mqtt.BrokerHost = broker
	}
	if port := viper.GetInt("broker-port"); port != 0 {
		cfg.Mqtt.BrokerPort = port
	}
	if bind := viper.GetString("bind"); bind != "" {
		cfg.Bacnet.BindAddress = bind
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
