package gateway

import (
	"net"
	"sync"
	"time"

	"github.com/edgehaus/bacnet-mqtt-gateway/bacnet"
)

//Entry is one known device. The instance number is the canonical
//identity: the same instance re-announcing from a new address moves,
//it does not duplicate
type Entry struct {
	Device   bacnet.Device
	LastSeen time.Time
}

//Registry tracks devices seen on the network, indexed both by
//instance and by source address. Reads vastly outnumber writes
type Registry struct {
	mu         sync.RWMutex
	byInstance map[bacnet.ObjectInstance]*Entry
	//Every instance that announced from an address still claims it
	//until it announces elsewhere. More than one fresh claimant makes
	//the address ambiguous
	byAddr     map[string]map[bacnet.ObjectInstance]struct{}
	staleAfter time.Duration
}

func NewRegistry(staleAfter time.Duration) *Registry {
	return &Registry{
		byInstance: make(map[bacnet.ObjectInstance]*Entry),
		byAddr:     make(map[string]map[bacnet.ObjectInstance]struct{}),
		staleAfter: staleAfter,
	}
}

//Upsert records a device announcement. Returns true when the device
//is new or came back on a different address, which is the signal to
//re-publish its discovery config
func (r *Registry) Upsert(dev bacnet.Device, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	instance := dev.ID.Instance
	prev, known := r.byInstance[instance]
	moved := known && prev.Device.Addr != nil && prev.Device.Addr.String() != dev.Addr.String()
	if moved {
		r.dropClaim(prev.Device.Addr.String(), instance)
	}
	r.byInstance[instance] = &Entry{Device: dev, LastSeen: now}
	addr := dev.Addr.String()
	if r.byAddr[addr] == nil {
		r.byAddr[addr] = make(map[bacnet.ObjectInstance]struct{})
	}
	r.byAddr[addr][instance] = struct{}{}
	return !known || moved
}

func (r *Registry) dropClaim(addr string, instance bacnet.ObjectInstance) {
	claims := r.byAddr[addr]
	delete(claims, instance)
	if len(claims) == 0 {
		delete(r.byAddr, addr)
	}
}

//Resolve maps a source address back to a device instance. An address
//with several devices behind it (address translation, DHCP churn) is
//ambiguous when more than one claimant is still fresh: that is an
//explicit unresolved case, not a guess
func (r *Registry) Resolve(addr *net.UDPAddr) (bacnet.Device, bool) {
	return r.resolveAt(addr, time.Now())
}

func (r *Registry) resolveAt(addr *net.UDPAddr, now time.Time) (bacnet.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var match *Entry
	for instance := range r.byAddr[addr.String()] {
		entry, ok := r.byInstance[instance]
		if !ok || now.Sub(entry.LastSeen) > r.staleAfter {
			continue
		}
		if match != nil {
			return bacnet.Device{}, false
		}
		match = entry
	}
	if match == nil {
		return bacnet.Device{}, false
	}
	return match.Device, true
}

//Touch refreshes the last-seen timestamp of a device that answered a
//poll
func (r *Registry) Touch(instance bacnet.ObjectInstance, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.byInstance[instance]; ok {
		entry.LastSeen = now
	}
}

//Fresh returns the devices still worth polling: those seen within the
//staleness window. Stale entries stay registered so a later
//announcement revives them without a new discovery config
func (r *Registry) Fresh(now time.Time) []bacnet.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	devices := make([]bacnet.Device, 0, len(r.byInstance))
	for _, entry := range r.byInstance {
		if now.Sub(entry.LastSeen) > r.staleAfter {
			continue
		}
		devices = append(devices, entry.Device)
	}
	return devices
}

//Snapshot returns every entry, fresh or stale, for the status page
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]Entry, 0, len(r.byInstance))
	for _, entry := range r.byInstance {
		entries = append(entries, *entry)
	}
	return entries
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byInstance)
}
