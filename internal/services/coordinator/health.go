package coordinator

import (
	"encoding/json"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ConnChecker is satisfied by mqtt.Client.
type ConnChecker interface {
	IsConnectionOpen() bool
}

// ErrorAger is satisfied by recorder.Recorder.
type ErrorAger interface {
	LastErrorAge() time.Duration
}

// SessionCounter is satisfied by hub.Hub.
type SessionCounter interface {
	Sessions() int
}

// HealthDeps: MQTT e Recorder sono opzionali (nil = disabilitati).
type HealthDeps struct {
	MQTT     ConnChecker
	Recorder ErrorAger
	Hub      SessionCounter
}

func (d HealthDeps) mqttOK() bool { return d.MQTT == nil || d.MQTT.IsConnectionOpen() }
func (d HealthDeps) recorderOK(minAge time.Duration) bool {
	return d.Recorder == nil || d.Recorder.LastErrorAge() > minAge
}

type healthHandler struct {
	d HealthDeps
}

func NewHealthHandler(d HealthDeps) http.Handler {
	return &healthHandler{d: d}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status          string   `json:"status"`
		MQTTConnected   *bool    `json:"mqtt_connected,omitempty"`
		LastWriteErrorS *float64 `json:"last_write_error_age_sec,omitempty"`
		Sessions        int      `json:"console_sessions"`
	}
	st := status{Status: "ok"}
	if h.d.MQTT != nil {
		ok := h.d.MQTT.IsConnectionOpen()
		st.MQTTConnected = &ok
	}
	if h.d.Recorder != nil {
		age := h.d.Recorder.LastErrorAge().Seconds()
		st.LastWriteErrorS = &age
	}
	if h.d.Hub != nil {
		st.Sessions = h.d.Hub.Sessions()
	}

	// il core funziona anche senza broker o Influx: in quel caso e' solo "degraded"
	if !h.d.mqttOK() || !h.d.recorderOK(30*time.Second) {
		st.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

// Handler /readyz: 200 solo se tutte le dipendenze configurate sono ok.
type readyHandler struct {
	d        HealthDeps
	minError time.Duration
}

func NewReadyHandler(d HealthDeps, minOkErrorAge time.Duration) http.Handler {
	return &readyHandler{d: d, minError: minOkErrorAge}
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	ready := h.d.mqttOK() && h.d.recorderOK(h.minError)
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	type resp struct {
		Ready bool `json:"ready"`
	}
	_ = json.NewEncoder(w).Encode(resp{Ready: ready})
}

// NewGRPCHealth registers the standard grpc.health.v1 service. The overall
// status starts NOT_SERVING; the caller flips it once the registry is loaded.
func NewGRPCHealth() (*grpc.Server, *health.Server) {
	s := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s, hs
}
