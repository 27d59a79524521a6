package bacip

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

const DefaultUDPPort = 47808

// BACnet virtual link layer constants
const (
	bvlcTypeBacnetIP byte = 0x81

	bvlcFuncForwardedNPDU byte = 0x04
	bvlcFuncUnicast       byte = 0x0a
	bvlcFuncBroadcast     byte = 0x0b
)

//ErrInvalidFrame marks datagrams that fail BVLC decoding. The port is
//shared with arbitrary network noise, so these are expected traffic
var ErrInvalidFrame = errors.New("invalid BVLC frame")

var (
	ErrNotBACnetIP         = fmt.Errorf("%w: not a BACnet/IP payload", ErrInvalidFrame)
	ErrUnknownBVLCFunction = fmt.Errorf("%w: unknown BVLC function", ErrInvalidFrame)
)

//Transport owns the one bound UDP socket of the process. Sends wrap
//the payload in a BVLL header, receives strip it, so callers only ever
//see raw [NPDU][APDU] payloads
type Transport struct {
	conn             *net.UDPConn
	broadcastAddress net.IP
}

func broadcastAddr(n *net.IPNet) (net.IP, error) {
	if n.IP.To4() == nil {
		return net.IP{}, errors.New("does not support IPv6 addresses")
	}
	ip := make(net.IP, len(n.IP.To4()))
	binary.BigEndian.PutUint32(ip, binary.BigEndian.Uint32(n.IP.To4())|^binary.BigEndian.Uint32(net.IP(n.Mask).To4()))
	return ip, nil
}

//NewTransport binds the given address and port. If port is 0 the
//default BACnet port is used. A bind failure is fatal: there is no
//engine without a socket
func NewTransport(bindIP string, port int) (*Transport, error) {
	if port == 0 {
		port = DefaultUDPPort
	}
	t := &Transport{}

	ip := net.ParseIP(bindIP)
	if ip == nil {
		return nil, fmt.Errorf("invalid bind address %q", bindIP)
	}
	t.broadcastAddress = net.IPv4bcast
	if !ip.IsUnspecified() {
		// Derive the subnet broadcast address from the interface the
		// bind address belongs to
		addrs, err := net.InterfaceAddrs()
		if err != nil {
			return nil, err
		}
		for _, ad := range addrs {
			if ipNet, ok := ad.(*net.IPNet); ok && ipNet.Contains(ip) && ipNet.IP.To4() != nil {
				broadcast, err := broadcastAddr(ipNet)
				if err != nil {
					return nil, err
				}
				t.broadcastAddress = broadcast
				break
			}
		}
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{
		IP:   ip,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("bind %s:%d: %w", bindIP, port, err)
	}
	t.conn = conn
	return t, nil
}

func (t *Transport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

func (t *Transport) Close() error {
	return t.conn.Close()
}

//SendBroadcast sends the payload to the subnet broadcast address on
//the BACnet port
func (t *Transport) SendBroadcast(payload []byte) error {
	return t.sendTo(bvlcFuncBroadcast, payload, &net.UDPAddr{
		IP:   t.broadcastAddress,
		Port: DefaultUDPPort,
	})
}

//SendUnicast sends the payload to one device
func (t *Transport) SendUnicast(payload []byte, addr *net.UDPAddr) error {
	if addr == nil {
		return errors.New("unicast needs a destination address")
	}
	return t.sendTo(bvlcFuncUnicast, payload, addr)
}

func (t *Transport) sendTo(function byte, payload []byte, addr *net.UDPAddr) error {
	b := &bytes.Buffer{}
	b.WriteByte(bvlcTypeBacnetIP)
	b.WriteByte(function)
	//length covers the whole datagram, header included
	_ = binary.Write(b, binary.BigEndian, uint16(4+len(payload)))
	b.Write(payload)
	n, err := t.conn.WriteToUDP(b.Bytes(), addr)
	if err != nil {
		return err
	}
	if n != b.Len() {
		return fmt.Errorf("partial write: %d of %d bytes", n, b.Len())
	}
	return nil
}

//ReceiveFrame blocks until a datagram arrives, strips the BVLL header
//and returns the payload with its source address. For a forwarded
//NPDU the originating address inside the header replaces the sender
func (t *Transport) ReceiveFrame() ([]byte, *net.UDPAddr, error) {
	b := make([]byte, 2048)
	n, src, err := t.conn.ReadFromUDP(b)
	if err != nil {
		return nil, nil, err
	}
	payload, origin, err := unwrapBVLC(b[:n])
	if err != nil {
		return nil, src, err
	}
	if origin != nil {
		src = origin
	}
	return payload, src, nil
}

func unwrapBVLC(data []byte) (payload []byte, origin *net.UDPAddr, err error) {
	if len(data) < 4 || data[0] != bvlcTypeBacnetIP {
		return nil, nil, ErrNotBACnetIP
	}
	length := binary.BigEndian.Uint16(data[2:4])
	if int(length) != len(data) {
		return nil, nil, fmt.Errorf("%w: advertised length %d, got %d", ErrInvalidFrame, length, len(data))
	}
	switch data[1] {
	case bvlcFuncUnicast, bvlcFuncBroadcast:
		return data[4:], nil, nil
	case bvlcFuncForwardedNPDU:
		// 6 byte B/IP address of the device behind the BBMD
		if len(data) < 10 {
			return nil, nil, fmt.Errorf("%w: truncated forwarded NPDU", ErrInvalidFrame)
		}
		origin = &net.UDPAddr{
			IP:   net.IP(data[4:8]),
			Port: int(binary.BigEndian.Uint16(data[8:10])),
		}
		return data[10:], origin, nil
	default:
		return nil, nil, fmt.Errorf("%w: 0x%x", ErrUnknownBVLCFunction, data[1])
	}
}
