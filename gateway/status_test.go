package gateway

import (
	"encoding/json"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgehaus/bacnet-mqtt-gateway/bacnet"
)

func testStatusServer() (*StatusServer, *Registry) {
	registry := NewRegistry(15 * time.Minute)
	return NewStatusServer(registry, NewMetrics(), 15*time.Minute, ":0"), registry
}

func TestStatusIndexPage(t *testing.T) {
	server, _ := testStatusServer()

	rec := httptest.NewRecorder()
	server.handleIndex(rec, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.True(t, strings.Contains(rec.Body.String(), "BACnet-MQTT Gateway"))
	assert.True(t, strings.Contains(rec.Body.String(), "/status"))
}

func TestStatusIndexUnknownPath(t *testing.T) {
	server, _ := testStatusServer()

	rec := httptest.NewRecorder()
	server.handleIndex(rec, httptest.NewRequest("GET", "/nope", nil))

	assert.Equal(t, 404, rec.Code)
}

func TestStatusSnapshot(t *testing.T) {
	server, registry := testStatusServer()
	now := time.Now()
	registry.Upsert(bacnet.Device{
		ID:   bacnet.ObjectID{Type: bacnet.DeviceType, Instance: 7},
		Addr: &net.UDPAddr{IP: net.ParseIP("192.168.1.30"), Port: 47808},
	}, now.Add(-time.Hour))
	registry.Upsert(bacnet.Device{
		ID:   bacnet.ObjectID{Type: bacnet.DeviceType, Instance: 3},
		Addr: &net.UDPAddr{IP: net.ParseIP("192.168.1.31"), Port: 47808},
	}, now)

	rec := httptest.NewRecorder()
	server.handleStatus(rec, httptest.NewRequest("GET", "/status", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Devices, 2)
	assert.Equal(t, bacnet.ObjectInstance(3), resp.Devices[0].Instance)
	assert.False(t, resp.Devices[0].Stale)
	assert.Equal(t, bacnet.ObjectInstance(7), resp.Devices[1].Instance)
	assert.True(t, resp.Devices[1].Stale)
}
