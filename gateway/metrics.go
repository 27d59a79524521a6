package gateway

import (
	"sync/atomic"
	"time"
)

//Counter is a thread-safe monotonic counter
type Counter struct {
	value int64
}

func (c *Counter) Inc() {
	atomic.AddInt64(&c.value, 1)
}

func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.value)
}

//Metrics counts gateway activity for the status page
type Metrics struct {
	WhoIsSent         Counter
	IAmReceived       Counter
	DevicesDiscovered Counter
	PollsSent         Counter
	ValuesPublished   Counter
	PublishFailures   Counter
	RequestsTimedOut  Counter
	UnresolvedAcks    Counter
	ConfigsPublished  Counter

	startTime time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

//MetricsSnapshot is a point-in-time copy, shaped for JSON
type MetricsSnapshot struct {
	UptimeSeconds     int64 `json:"uptimeSeconds"`
	WhoIsSent         int64 `json:"whoIsSent"`
	IAmReceived       int64 `json:"iAmReceived"`
	DevicesDiscovered int64 `json:"devicesDiscovered"`
	PollsSent         int64 `json:"pollsSent"`
	ValuesPublished   int64 `json:"valuesPublished"`
	PublishFailures   int64 `json:"publishFailures"`
	RequestsTimedOut  int64 `json:"requestsTimedOut"`
	UnresolvedAcks    int64 `json:"unresolvedAcks"`
	ConfigsPublished  int64 `json:"configsPublished"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds:     int64(m.Uptime().Seconds()),
		WhoIsSent:         m.WhoIsSent.Value(),
		IAmReceived:       m.IAmReceived.Value(),
		DevicesDiscovered: m.DevicesDiscovered.Value(),
		PollsSent:         m.PollsSent.Value(),
		ValuesPublished:   m.ValuesPublished.Value(),
		PublishFailures:   m.PublishFailures.Value(),
		RequestsTimedOut:  m.RequestsTimedOut.Value(),
		UnresolvedAcks:    m.UnresolvedAcks.Value(),
		ConfigsPublished:  m.ConfigsPublished.Value(),
	}
}
