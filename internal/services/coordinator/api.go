package coordinator

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/LeonardoBeccarini/agos/internal/auth"
	"github.com/LeonardoBeccarini/agos/internal/model"
	"github.com/LeonardoBeccarini/agos/internal/services/command"
	"github.com/LeonardoBeccarini/agos/internal/services/recipients"
	"github.com/LeonardoBeccarini/agos/internal/services/relay"
)

const maxBody = 64 << 10

// Deps are the core components behind the HTTP surface.
type Deps struct {
	Relay      *relay.Relay
	Queue      *command.Queue
	Registry   *recipients.Registry
	Auth       auth.Authenticator
	Console    http.Handler // websocket endpoint of the hub
	Health     http.Handler
	Ready      http.Handler
	Metrics    http.Handler
	DefaultTTL time.Duration
	MaxTTL     time.Duration
}

type API struct {
	d Deps
}

func NewAPI(d Deps) *API {
	if d.DefaultTTL <= 0 {
		d.DefaultTTL = 10 * time.Minute
	}
	if d.MaxTTL <= 0 {
		d.MaxTTL = 24 * time.Hour
	}
	// il tetto configurato vince sul default
	if d.DefaultTTL > d.MaxTTL {
		log.Printf("coordinator: default command TTL %s above max %s, using %s", d.DefaultTTL, d.MaxTTL, d.MaxTTL)
		d.DefaultTTL = d.MaxTTL
	}
	return &API{d: d}
}

func (a *API) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/telemetry", a.postTelemetry).Methods(http.MethodPost)
	r.HandleFunc("/telemetry/latest", a.getLatest).Methods(http.MethodGet)

	// /api/command e' l'alias storico usato dal firmware: stessa coda, stessi handler
	for _, p := range []string{"/command", "/api/command"} {
		r.HandleFunc(p, a.pollCommand).Methods(http.MethodGet)
		r.HandleFunc(p, a.postCommand).Methods(http.MethodPost)
	}
	r.HandleFunc("/command/pending", a.peekCommand).Methods(http.MethodGet)

	r.HandleFunc("/recipients", a.listRecipients).Methods(http.MethodGet)
	r.HandleFunc("/recipients", a.addRecipient).Methods(http.MethodPost)
	r.HandleFunc("/recipients", a.removeRecipient).Methods(http.MethodDelete)

	if a.d.Console != nil {
		r.Handle("/ws", a.d.Console).Methods(http.MethodGet)
	}
	if a.d.Health != nil {
		r.Handle("/healthz", a.d.Health).Methods(http.MethodGet)
	}
	if a.d.Ready != nil {
		r.Handle("/readyz", a.d.Ready).Methods(http.MethodGet)
	}
	if a.d.Metrics != nil {
		r.Handle("/metrics", a.d.Metrics).Methods(http.MethodGet)
	}
	return r
}

// --- telemetry ---

func (a *API) postTelemetry(w http.ResponseWriter, r *http.Request) {
	var in model.TelemetryReading
	if err := decode(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidTelemetry", err.Error())
		return
	}
	level, err := a.d.Relay.Ingest(in)
	if err != nil {
		if errors.Is(err, relay.ErrInvalidTelemetry) {
			writeError(w, http.StatusBadRequest, "InvalidTelemetry", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"level": level})
}

func (a *API) getLatest(w http.ResponseWriter, _ *http.Request) {
	u, ok := a.d.Relay.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// --- command ---

type commandOut struct {
	Command    model.CommandKind `json:"command"`
	ID         string            `json:"id"`
	Operator   string            `json:"operator"`
	Timestamp  time.Time         `json:"timestamp"`
	ExpiresAt  time.Time         `json:"expiresAt"`
	Recipients []string          `json:"recipients"`
}

func toCommandOut(c model.PendingCommand) commandOut {
	return commandOut{
		Command:    c.Kind,
		ID:         c.ID,
		Operator:   c.IssuedBy,
		Timestamp:  c.IssuedAt.UTC(),
		ExpiresAt:  c.ExpiresAt.UTC(),
		Recipients: c.Recipients,
	}
}

var noCommand = map[string]any{"command": nil}

// GET /command: poll del device, consuma il comando.
func (a *API) pollCommand(w http.ResponseWriter, _ *http.Request) {
	c, ok := a.d.Queue.PollAndConsume()
	if !ok {
		writeJSON(w, http.StatusOK, noCommand)
		return
	}
	log.Printf("coordinator: command %s (%s) delivered to device", c.ID, c.Kind)
	writeJSON(w, http.StatusOK, toCommandOut(c))
}

func (a *API) peekCommand(w http.ResponseWriter, _ *http.Request) {
	c, ok := a.d.Queue.Peek()
	if !ok {
		writeJSON(w, http.StatusOK, noCommand)
		return
	}
	writeJSON(w, http.StatusOK, toCommandOut(c))
}

type commandIn struct {
	Kind       model.CommandKind `json:"kind"`
	Recipients []string          `json:"recipients,omitempty"`
	TTLSeconds *int              `json:"ttlSeconds,omitempty"`
}

func (a *API) postCommand(w http.ResponseWriter, r *http.Request) {
	operator, err := a.d.Auth.Operator(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthenticated", "operator authentication required")
		return
	}

	var in commandIn
	if err := decode(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	rcpts := in.Recipients
	if rcpts == nil {
		rcpts = a.d.Registry.List()
	}

	c, err := a.d.Queue.Enqueue(in.Kind, operator, rcpts, a.ttl(in.TTLSeconds))
	switch {
	case err == nil:
	case errors.Is(err, command.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "Unauthenticated", err.Error())
		return
	case errors.Is(err, command.ErrInvalidKind),
		errors.Is(err, command.ErrNoRecipients),
		errors.Is(err, command.ErrInvalidNumber):
		writeError(w, http.StatusBadRequest, "InvalidCommand", err.Error())
		return
	default:
		writeError(w, http.StatusInternalServerError, "Internal", err.Error())
		return
	}

	log.Printf("coordinator: %s queued command %s (%s) for %d recipient(s), expires %s",
		operator, c.ID, c.Kind, len(c.Recipients), c.ExpiresAt.UTC().Format(time.RFC3339))
	writeJSON(w, http.StatusCreated, toCommandOut(c))
}

// ttl negativo -> 0 (comando gia' scaduto), oltre MaxTTL -> MaxTTL
func (a *API) ttl(secs *int) time.Duration {
	if secs == nil {
		return a.d.DefaultTTL
	}
	if *secs <= 0 {
		return 0
	}
	d := time.Duration(*secs) * time.Second
	if d > a.d.MaxTTL {
		return a.d.MaxTTL
	}
	return d
}

// --- recipients ---

type numberIn struct {
	Number string `json:"number"`
}

func (a *API) listRecipients(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.d.Registry.List())
}

func (a *API) addRecipient(w http.ResponseWriter, r *http.Request) {
	var in numberIn
	if err := decode(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	n := strings.TrimSpace(in.Number)
	if err := a.d.Registry.Add(n); err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, numberIn{Number: n})
}

// DELETE /recipients: numero nel body oppure ?number=
func (a *API) removeRecipient(w http.ResponseWriter, r *http.Request) {
	n := r.URL.Query().Get("number")
	if n == "" {
		var in numberIn
		if err := decode(w, r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
			return
		}
		n = in.Number
	}
	n = strings.TrimSpace(n)
	if err := a.d.Registry.Remove(n); err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, numberIn{Number: n})
}

func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, recipients.ErrInvalidFormat):
		writeError(w, http.StatusBadRequest, "InvalidFormat", err.Error())
	case errors.Is(err, recipients.ErrDuplicate):
		writeError(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, recipients.ErrNotFound):
		writeError(w, http.StatusNotFound, "NotFound", err.Error())
	default:
		log.Printf("coordinator: registry write failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal", "recipient store unavailable")
	}
}

// --- helpers ---

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": code, "message": msg})
}
