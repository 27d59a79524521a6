package bacip

import (
	"errors"
	"net"
	"sync"
	"time"
)

var (
	//ErrRequestTimeout marks a confirmed request whose ack never
	//arrived before its deadline
	ErrRequestTimeout = errors.New("confirmed request timed out")
	//ErrInvokeIDExhausted is returned when all 255 invoke ids have an
	//outstanding request
	ErrInvokeIDExhausted = errors.New("no free invoke id: 255 requests outstanding")
)

//PendingRequest is one outstanding confirmed request awaiting its
//complex ack
type PendingRequest struct {
	InvokeID byte
	Target   *net.UDPAddr
	Service  ServiceType
	Deadline time.Time
}

//Transactions allocates invoke ids and tracks outstanding confirmed
//requests. Ids run 1..255 and wrap; 0 is never issued. An id stays
//unavailable while its request is pending, so two concurrently
//outstanding requests can never share one
type Transactions struct {
	mu      sync.Mutex
	last    byte
	pending map[byte]PendingRequest
}

func NewTransactions() *Transactions {
	return &Transactions{
		pending: map[byte]PendingRequest{},
	}
}

//Begin allocates the next free invoke id and records the request as
//pending until Complete or expiry
func (t *Transactions) Begin(target *net.UDPAddr, service ServiceType, deadline time.Time) (byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) >= 255 {
		return 0, ErrInvokeIDExhausted
	}
	id := t.last
	for {
		id++
		if id == 0 {
			id = 1
		}
		if _, taken := t.pending[id]; !taken {
			break
		}
	}
	t.last = id
	t.pending[id] = PendingRequest{
		InvokeID: id,
		Target:   target,
		Service:  service,
		Deadline: deadline,
	}
	return id, nil
}

//Complete removes the pending entry matched by an incoming ack.
//Returns false for an id with no outstanding request
func (t *Transactions) Complete(id byte) (PendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	return req, ok
}

//Expire removes and returns every pending request whose deadline has
//passed, freeing their invoke ids
func (t *Transactions) Expire(now time.Time) []PendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []PendingRequest
	for id, req := range t.pending {
		if now.After(req.Deadline) {
			expired = append(expired, req)
			delete(t.pending, id)
		}
	}
	return expired
}

//Outstanding returns the number of requests still awaiting an ack
func (t *Transactions) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
