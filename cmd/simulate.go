package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/edgehaus/bacnet-mqtt-gateway/simulator"
)

var (
	simInstance uint32
	simBind     string
	simPort     int
	simValue    float32
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated BACnet device",
	Long: `simulate answers WhoIs broadcasts and ReadProperty requests like a
real BACnet device would, which makes it useful for trying the gateway
without building hardware. It binds a different UDP port than the
gateway so both can share a host.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sim, err := simulator.New(simulator.Config{
			BindAddress: simBind,
			Port:        simPort,
			Instance:    simInstance,
			BaseValue:   simValue,
		})
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return sim.Run(ctx)
	},
}

func init() {
	simulateCmd.Flags().Uint32Var(&simInstance, "instance", 42, "device instance number")
	simulateCmd.Flags().StringVar(&simBind, "bind", "0.0.0.0", "address to bind")
	simulateCmd.Flags().IntVar(&simPort, "port", simulator.DefaultPort, "UDP port")
	simulateCmd.Flags().Float32Var(&simValue, "value", 21.5, "base analog value")
}
