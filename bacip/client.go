//Package bacip implements a BACnet/IP protocol engine: device
//discovery, confirmed property reads and a receive loop translating
//network traffic into typed events
package bacip

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/edgehaus/bacnet-mqtt-gateway/bacnet"
)

type Logger interface {
	Debug(...interface{})
	Info(...interface{})
	Error(...interface{})
}

type NoOpLogger struct{}

func (NoOpLogger) Debug(...interface{}) {}
func (NoOpLogger) Info(...interface{})  {}
func (NoOpLogger) Error(...interface{}) {}

const (
	// Capacity of the event channel. The receive loop blocks when the
	// consumer falls this far behind
	eventBacklog = 100

	defaultRequestTimeout = 5 * time.Second
	expirySweepInterval   = time.Second
)

type Config struct {
	//IP to bind, "0.0.0.0" for all interfaces
	BindAddress string
	//UDP port, 0 means the default BACnet port 47808
	Port int
	//How long a confirmed request may stay unanswered before its
	//invoke id is reclaimed
	RequestTimeout time.Duration
}

//Client drives one BACnet/IP socket: it broadcasts WhoIs, unicasts
//confirmed ReadProperty requests and decodes everything that arrives
//into Events
type Client struct {
	transport    *Transport
	transactions *Transactions
	events       chan Event
	timeout      time.Duration
	Logger       Logger
	//Called for every confirmed request whose ack never arrived.
	//Optional; expiries are logged either way
	OnTimeout func(PendingRequest)
}

//NewClient binds the UDP socket. A bind failure is fatal, there is no
//recovery path without a socket
func NewClient(cfg Config) (*Client, error) {
	transport, err := NewTransport(cfg.BindAddress, cfg.Port)
	if err != nil {
		return nil, err
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		transport:    transport,
		transactions: NewTransactions(),
		events:       make(chan Event, eventBacklog),
		timeout:      timeout,
		Logger:       NoOpLogger{},
	}, nil
}

func (c *Client) LocalAddr() net.Addr {
	return c.transport.LocalAddr()
}

//Close releases the socket, which also unblocks the receive loop
func (c *Client) Close() error {
	return c.transport.Close()
}

//Start launches the receive loop and the pending-request expiry sweep.
//Both run until ctx is cancelled or the socket closes. The returned
//channel carries every recognized incoming message and is closed when
//the receive loop ends
func (c *Client) Start(ctx context.Context) <-chan Event {
	go c.receiveLoop(ctx)
	go c.expiryLoop(ctx)
	go func() {
		// Closing the socket is what unblocks the receive loop
		<-ctx.Done()
		c.transport.Close()
	}()
	return c.events
}

//Discover broadcasts an unrestricted WhoIs. Responses arrive later as
//IAmEvents; the call itself changes no state
func (c *Client) Discover() error {
	apdu := APDU{
		DataType:    UnconfirmedServiceRequest,
		ServiceType: ServiceUnconfirmedWhoIs,
		Payload:     &WhoIs{},
	}
	npdu := NPDU{
		Version:        Version1,
		ExpectingReply: false,
		Priority:       Normal,
	}
	packet, err := marshalPacket(npdu, apdu)
	if err != nil {
		return err
	}
	return c.transport.SendBroadcast(packet)
}

//ReadProperty sends a confirmed ReadProperty request and returns the
//allocated invoke id without waiting for the answer. The ack arrives
//later as a ReadPropertyAckEvent; if it never does, the pending entry
//expires with ErrRequestTimeout
func (c *Client) ReadProperty(target *net.UDPAddr, object bacnet.ObjectID, property bacnet.PropertyType) (byte, error) {
	invokeID, err := c.transactions.Begin(target, ServiceConfirmedReadProperty, time.Now().Add(c.timeout))
	if err != nil {
		return 0, err
	}
	apdu := APDU{
		DataType:    ConfirmedServiceRequest,
		ServiceType: ServiceConfirmedReadProperty,
		InvokeID:    invokeID,
		Payload: &ReadPropertyRequest{
			ObjectID: object,
			Property: bacnet.PropertyIdentifier{Type: property},
		},
	}
	npdu := NPDU{
		Version:        Version1,
		ExpectingReply: true,
		Priority:       Normal,
	}
	packet, err := marshalPacket(npdu, apdu)
	if err != nil {
		c.transactions.Complete(invokeID)
		return 0, err
	}
	if err := c.transport.SendUnicast(packet, target); err != nil {
		c.transactions.Complete(invokeID)
		return 0, err
	}
	return invokeID, nil
}

//SendIAm unicasts an IAm announcement, the answer to a WhoIs
func (c *Client) SendIAm(dest *net.UDPAddr, iam Iam) error {
	packet, err := marshalIAm(iam)
	if err != nil {
		return err
	}
	return c.transport.SendUnicast(packet, dest)
}

//BroadcastIAm announces a device unsolicited, the way real hardware
//does at startup
func (c *Client) BroadcastIAm(iam Iam) error {
	packet, err := marshalIAm(iam)
	if err != nil {
		return err
	}
	return c.transport.SendBroadcast(packet)
}

func marshalIAm(iam Iam) ([]byte, error) {
	apdu := APDU{
		DataType:    UnconfirmedServiceRequest,
		ServiceType: ServiceUnconfirmedIAm,
		Payload:     &iam,
	}
	npdu := NPDU{
		Version:        Version1,
		ExpectingReply: false,
		Priority:       Normal,
	}
	return marshalPacket(npdu, apdu)
}

//SendReadPropertyAck answers a confirmed ReadProperty request. The
//invoke id must echo the one from the request
func (c *Client) SendReadPropertyAck(dest *net.UDPAddr, invokeID byte, ack ReadPropertyAck) error {
	apdu := APDU{
		DataType:    ComplexAck,
		ServiceType: ServiceConfirmedReadProperty,
		InvokeID:    invokeID,
		Payload:     &ack,
	}
	npdu := NPDU{
		Version:        Version1,
		ExpectingReply: false,
		Priority:       Normal,
	}
	packet, err := marshalPacket(npdu, apdu)
	if err != nil {
		return err
	}
	return c.transport.SendUnicast(packet, dest)
}

func marshalPacket(npdu NPDU, apdu APDU) ([]byte, error) {
	packet, err := npdu.MarshalBinary()
	if err != nil {
		return nil, err
	}
	apduBytes, err := apdu.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(packet, apduBytes...), nil
}

//receiveLoop runs for the client's lifetime on a dedicated goroutine,
//blocking on the socket. Transient receive errors are logged and the
//loop continues; the socket is shared with arbitrary network noise,
//so per-frame decode failures are dropped silently
func (c *Client) receiveLoop(ctx context.Context) {
	defer close(c.events)
	for {
		payload, src, err := c.transport.ReceiveFrame()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			if errors.Is(err, ErrInvalidFrame) {
				c.Logger.Debug("drop frame from ", src, ": ", err)
			} else {
				c.Logger.Error("receive frame: ", err)
			}
			continue
		}
		event, err := c.decodeFrame(src, payload)
		if err != nil {
			c.Logger.Debug("drop frame from ", src, ": ", err)
			continue
		}
		if event == nil {
			continue
		}
		select {
		case c.events <- event:
		case <-ctx.Done():
			return
		}
	}
}

//decodeFrame turns one [NPDU][APDU] payload into an Event. A nil
//event with nil error means the frame was valid but not interesting:
//network layer messages and service combinations outside the dispatch
//table
func (c *Client) decodeFrame(src *net.UDPAddr, payload []byte) (Event, error) {
	npdu := NPDU{}
	consumed, err := npdu.UnmarshalBinary(payload)
	if err != nil {
		return nil, fmt.Errorf("decode NPDU: %w", err)
	}
	if npdu.IsNetworkLayerMessage {
		// Routing traffic is consumed, never surfaced
		return nil, nil
	}
	if consumed >= len(payload) {
		return nil, errors.New("NPDU without APDU")
	}
	apdu := APDU{}
	if err := apdu.UnmarshalBinary(payload[consumed:]); err != nil {
		return nil, fmt.Errorf("decode APDU: %w", err)
	}

	switch {
	case apdu.DataType == UnconfirmedServiceRequest && apdu.ServiceType == ServiceUnconfirmedWhoIs:
		return WhoIsEvent{Request: *apdu.Payload.(*WhoIs), Source: src}, nil
	case apdu.DataType == UnconfirmedServiceRequest && apdu.ServiceType == ServiceUnconfirmedIAm:
		return IAmEvent{Request: *apdu.Payload.(*Iam), Source: src}, nil
	case apdu.DataType == ConfirmedServiceRequest && apdu.ServiceType == ServiceConfirmedReadProperty:
		return ReadPropertyRequestEvent{
			Request:  *apdu.Payload.(*ReadPropertyRequest),
			InvokeID: apdu.InvokeID,
			Source:   src,
		}, nil
	case apdu.DataType == ComplexAck && apdu.ServiceType == ServiceConfirmedReadProperty:
		req, ok := c.transactions.Complete(apdu.InvokeID)
		if !ok {
			c.Logger.Debug("ack with no pending request, invoke id ", apdu.InvokeID, " from ", src)
		} else if req.Service != apdu.ServiceType {
			c.Logger.Error("ack service mismatch for invoke id ", apdu.InvokeID)
		}
		return ReadPropertyAckEvent{
			Ack:      *apdu.Payload.(*ReadPropertyAck),
			InvokeID: apdu.InvokeID,
			Source:   src,
		}, nil
	default:
		return nil, nil
	}
}

//expiryLoop reclaims invoke ids of requests whose ack never came
func (c *Client) expiryLoop(ctx context.Context) {
	ticker := time.NewTicker(expirySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			for _, req := range c.transactions.Expire(now) {
				c.Logger.Error(ErrRequestTimeout, ": invoke id ", req.InvokeID, " target ", req.Target)
				if c.OnTimeout != nil {
					c.OnTimeout(req)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
