package main

import "github.com/edgehaus/bacnet-mqtt-gateway/cmd"

func main() {
	cmd.Execute()
}
