package bacip

import "net"

//Event is a decoded BACnet message surfaced by the receive loop. It is
//the only artifact crossing from the protocol engine to its consumer
type Event interface {
	event()
}

//WhoIsEvent is a discovery broadcast received from the network
type WhoIsEvent struct {
	Request WhoIs
	Source  *net.UDPAddr
}

//IAmEvent is a device announcing itself, solicited or not
type IAmEvent struct {
	Request Iam
	Source  *net.UDPAddr
}

//ReadPropertyRequestEvent is another device querying this engine. The
//invoke id must be echoed by whoever answers
type ReadPropertyRequestEvent struct {
	Request  ReadPropertyRequest
	InvokeID byte
	Source   *net.UDPAddr
}

//ReadPropertyAckEvent answers one of our confirmed requests
type ReadPropertyAckEvent struct {
	Ack      ReadPropertyAck
	InvokeID byte
	Source   *net.UDPAddr
}

func (WhoIsEvent) event()               {}
func (IAmEvent) event()                 {}
func (ReadPropertyRequestEvent) event() {}
func (ReadPropertyAckEvent) event()     {}
