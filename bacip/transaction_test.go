package bacip

import (
	"net"
	"testing"
	"time"

	"github.com/matryer/is"
)

var testTarget = &net.UDPAddr{IP: net.IPv4(10, 0, 0, 7), Port: DefaultUDPPort}

func TestBeginAllocatesDistinctIDs(t *testing.T) {
	is := is.New(t)
	tr := NewTransactions()
	deadline := time.Now().Add(time.Second)
	seen := map[byte]bool{}
	for i := 0; i < 10; i++ {
		id, err := tr.Begin(testTarget, ServiceConfirmedReadProperty, deadline)
		is.NoErr(err)
		if id == 0 {
			t.Fatal("invoke id 0 must never be issued")
		}
		if seen[id] {
			t.Fatalf("invoke id %d issued twice", id)
		}
		seen[id] = true
	}
	is.Equal(tr.Outstanding(), 10)
}

func TestBeginWrapsAroundZero(t *testing.T) {
	is := is.New(t)
	tr := NewTransactions()
	tr.last = 255
	id, err := tr.Begin(testTarget, ServiceConfirmedReadProperty, time.Now().Add(time.Second))
	is.NoErr(err)
	is.Equal(id, byte(1))
}

func TestBeginSkipsPendingIDs(t *testing.T) {
	is := is.New(t)
	tr := NewTransactions()
	deadline := time.Now().Add(time.Second)
	first, err := tr.Begin(testTarget, ServiceConfirmedReadProperty, deadline)
	is.NoErr(err)
	//Force the allocator to come back around to the still pending id
	tr.last = first - 1
	second, err := tr.Begin(testTarget, ServiceConfirmedReadProperty, deadline)
	is.NoErr(err)
	if second == first {
		t.Fatalf("invoke id %d reused while still pending", first)
	}
}

func TestBeginExhaustion(t *testing.T) {
	is := is.New(t)
	tr := NewTransactions()
	deadline := time.Now().Add(time.Second)
	for i := 0; i < 255; i++ {
		_, err := tr.Begin(testTarget, ServiceConfirmedReadProperty, deadline)
		is.NoErr(err)
	}
	_, err := tr.Begin(testTarget, ServiceConfirmedReadProperty, deadline)
	is.Equal(err, ErrInvokeIDExhausted)

	//Completing one frees an id again
	_, ok := tr.Complete(1)
	is.True(ok)
	_, err = tr.Begin(testTarget, ServiceConfirmedReadProperty, deadline)
	is.NoErr(err)
}

func TestCompleteUnknownID(t *testing.T) {
	tr := NewTransactions()
	if _, ok := tr.Complete(42); ok {
		t.Fatal("completed a request that was never begun")
	}
}

func TestExpire(t *testing.T) {
	is := is.New(t)
	tr := NewTransactions()
	now := time.Now()
	expired, err := tr.Begin(testTarget, ServiceConfirmedReadProperty, now.Add(-time.Second))
	is.NoErr(err)
	alive, err := tr.Begin(testTarget, ServiceConfirmedReadProperty, now.Add(time.Minute))
	is.NoErr(err)

	reqs := tr.Expire(now)
	is.Equal(len(reqs), 1)
	is.Equal(reqs[0].InvokeID, expired)
	is.Equal(reqs[0].Target, testTarget)
	is.Equal(tr.Outstanding(), 1)

	//The expired id is free again, the alive one is not
	if _, ok := tr.Complete(expired); ok {
		t.Fatal("expired request still pending")
	}
	if _, ok := tr.Complete(alive); !ok {
		t.Fatal("live request lost during expiry")
	}
}
