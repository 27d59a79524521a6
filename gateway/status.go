package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/edgehaus/bacnet-mqtt-gateway/bacnet"
)

//StatusServer exposes a read-only JSON view of the gateway over HTTP
type StatusServer struct {
	registry   *Registry
	metrics    *Metrics
	staleAfter time.Duration
	listen     string
	log        *log.Entry
}

func NewStatusServer(registry *Registry, metrics *Metrics, staleAfter time.Duration, listen string) *StatusServer {
	return &StatusServer{
		registry:   registry,
		metrics:    metrics,
		staleAfter: staleAfter,
		listen:     listen,
		log:        log.WithField("module", "status"),
	}
}

type deviceStatus struct {
	Instance bacnet.ObjectInstance `json:"instance"`
	Address  string                `json:"address"`
	Vendor   uint32                `json:"vendor"`
	LastSeen time.Time             `json:"lastSeen"`
	Stale    bool                  `json:"stale"`
}

type statusResponse struct {
	Metrics MetricsSnapshot `json:"metrics"`
	Devices []deviceStatus  `json:"devices"`
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	entries := s.registry.Snapshot()
	devices := make([]deviceStatus, 0, len(entries))
	for _, entry := range entries {
		addr := ""
		if entry.Device.Addr != nil {
			addr = entry.Device.Addr.String()
		}
		devices = append(devices, deviceStatus{
			Instance: entry.Device.ID.Instance,
			Address:  addr,
			Vendor:   entry.Device.Vendor,
			LastSeen: entry.LastSeen,
			Stale:    now.Sub(entry.LastSeen) > s.staleAfter,
		})
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Instance < devices[j].Instance })

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(statusResponse{
		Metrics: s.metrics.Snapshot(),
		Devices: devices,
	}); err != nil {
		s.log.WithError(err).Debug("write status response")
	}
}

const indexPage = `<html><body><h1>BACnet-MQTT Gateway</h1>
<p>Registry and metrics snapshot at <a href="/status">/status</a>,
liveness at <a href="/healthz">/healthz</a>.</p>
</body></html>`

func (s *StatusServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexPage))
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

//Run serves until the context is cancelled
func (s *StatusServer) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealth)

	server := &http.Server{Addr: s.listen, Handler: mux}
	errc := make(chan error, 1)
	go func() {
		s.log.WithField("listen", s.listen).Info("status server listening")
		errc <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errc:
		return err
	}
}
